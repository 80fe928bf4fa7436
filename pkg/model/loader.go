package model

import (
	gocontext "context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/storage"
	"github.com/gomlx/metl/pkg/structure"
)

// ConfigSidecar is the name of the optional JSON file with hyperparameters, stored next to
// a ".safetensors" file. It takes precedence over the hyperparameters in the safetensors metadata.
const ConfigSidecar = "config.json"

// LoadContext reads the hyperparameters and weights stored at path into a new GoMLX context.
// Hyperparameters missing from the checkpoint are set to their default values.
//
// path is either a GoMLX checkpoint directory or a ".safetensors" file (local or URL).
func LoadContext(ctx gocontext.Context, path string) (*context.Context, error) {
	gctx := context.New()
	if strings.HasSuffix(strings.ToLower(path), SafetensorsExt) {
		if err := LoadSafetensors(ctx, gctx, path); err != nil {
			return nil, err
		}
		if err := loadSidecar(ctx, gctx, path); err != nil {
			return nil, err
		}
		return normalizeParams(gctx), nil
	}

	local, ok := storage.Local(path)
	if !ok {
		return nil, errors.Errorf("checkpoint %q: only local checkpoint directories are supported, or %s files",
			path, SafetensorsExt)
	}
	info, err := os.Stat(local)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %q", path)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("checkpoint %q is neither a directory nor a %s file", path, SafetensorsExt)
	}
	if _, err := checkpoints.Load(gctx).Dir(local).Immediate().Done(); err != nil {
		return nil, errors.WithMessagef(err, "loading checkpoint %q", path)
	}
	if gctx.NumVariables() == 0 {
		return nil, errors.Errorf("checkpoint %q has no variables", path)
	}
	return normalizeParams(gctx), nil
}

// normalizeParams sets all hyperparameters, with their default values if missing, and their proper types.
func normalizeParams(gctx *context.Context) *context.Context {
	ConfigFromContext(gctx).SetParams(gctx)
	return gctx
}

func loadSidecar(ctx gocontext.Context, gctx *context.Context, path string) error {
	sidecar := sidecarLocation(path)
	found, err := storage.Exists(ctx, sidecar)
	if err != nil || !found {
		return err
	}
	data, err := storage.Read(ctx, sidecar)
	if err != nil {
		return err
	}
	config := ConfigFromContext(gctx)
	if err := json.Unmarshal(data, &config); err != nil {
		return errors.Wrapf(err, "parsing %q", sidecar)
	}
	config.SetParams(gctx)
	klog.V(1).Infof("hyperparameters read from %q", sidecar)
	return nil
}

func sidecarLocation(path string) string {
	if storage.IsURL(path) {
		return path[:strings.LastIndex(path, "/")+1] + ConfigSidecar
	}
	return filepath.Join(filepath.Dir(path), ConfigSidecar)
}

// Load the model stored at path, see LoadContext.
func Load(ctx gocontext.Context, backend backends.Backend, path string) (*RelativeTransformer, error) {
	return CheckpointLoader{Backend: backend}.load(ctx, path)
}

// CheckpointLoader implements Loader for GoMLX checkpoints and safetensors files.
type CheckpointLoader struct {
	Backend backends.Backend

	// Structures is shared by the loaded models. If nil each model gets its own cache.
	Structures *structure.Cache

	// BatchSize of the loaded models, if > 0.
	BatchSize int

	// Progress, if set, is where the loaded models display their progress bar.
	Progress io.Writer

	// Settings overrides hyperparameters of the loaded checkpoints, in the format of
	// commandline.ParseContextSettings, e.g. "metl_contact_threshold=9.5".
	Settings string
}

var _ Loader = CheckpointLoader{}

// Load implements Loader.
func (l CheckpointLoader) Load(ctx gocontext.Context, path string) (Model, error) {
	m, err := l.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (l CheckpointLoader) load(ctx gocontext.Context, path string) (*RelativeTransformer, error) {
	if l.Backend == nil {
		return nil, errors.New("no backend configured to load the model")
	}
	gctx, err := LoadContext(ctx, path)
	if err != nil {
		return nil, err
	}
	if l.Settings != "" {
		paramsSet, err := commandline.ParseContextSettings(gctx, l.Settings)
		if err != nil {
			return nil, errors.WithMessage(err, "parsing hyperparameters settings")
		}
		klog.V(1).Infof("hyperparameters overridden: %s", commandline.SprintModifiedContextSettings(gctx, paramsSet))
	}
	m, err := New(l.Backend, gctx.Reuse(), l.Structures)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q", path)
	}
	if l.BatchSize > 0 {
		m.BatchSize = l.BatchSize
	}
	m.Progress = l.Progress
	klog.V(1).Infof("loaded model %q: %d variables, %d layers, encoding %s",
		path, gctx.NumVariables(), m.config.NumLayers, m.config.InputEncoding)
	return m, nil
}
