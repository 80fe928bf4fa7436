// Package model implements the structure-aware transformer that scores protein variants.
//
// The model is described by hyperparameters stored in a GoMLX context (see Config), and its
// weights are loaded either from a GoMLX checkpoint directory or from a ".safetensors" file.
package model

import (
	gocontext "context"
	"io"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/progress"
	"github.com/gomlx/metl/pkg/encoding"
	"github.com/gomlx/metl/pkg/structure"
)

// DefaultBatchSize is the number of variants scored per execution of the model.
const DefaultBatchSize = 256

// ErrEncodingMismatch is returned when the batch encoding differs from the one the model expects.
var ErrEncodingMismatch = errors.New("input encoding doesn't match the model")

// Model scores encoded variants.
type Model interface {
	// Eval switches the model to evaluation mode: dropout is disabled.
	Eval()

	// SetGradEnabled controls whether the model variables are trainable.
	SetGradEnabled(enabled bool)

	// Forward returns the predictions for the batch, shaped [batch.Len(), outputDim].
	// pdbFn is the location of the wild-type structure used for the relative positions.
	Forward(ctx gocontext.Context, batch *encoding.Batch, pdbFn string) (*tensors.Tensor, error)
}

// Loader loads a Model from a checkpoint location.
type Loader interface {
	Load(ctx gocontext.Context, path string) (Model, error)
}

// RelativeTransformer is the GoMLX implementation of Model.
type RelativeTransformer struct {
	backend    backends.Backend
	ctx        *context.Context
	config     Config
	structures *structure.Cache

	// BatchSize is the maximum number of variants per execution. If <= 0 the whole batch
	// is scored at once.
	BatchSize int

	// Progress, if set, receives a progress bar while scoring.
	Progress io.Writer

	mu          sync.Mutex
	training    bool
	gradEnabled bool
	exec        *context.Exec
}

var _ Model = (*RelativeTransformer)(nil)

// New creates a RelativeTransformer using the hyperparameters and variables of ctx.
//
// For loaded weights pass ctx.Reuse(), so a variable missing from the checkpoint is reported as an
// error. For a fresh model pass ctx.Checked(false): variables are then initialized randomly when the
// model is first executed.
//
// Like freshly built modules elsewhere, the model starts in training mode: call Eval before scoring.
// If structures is nil a new cache is created.
func New(backend backends.Backend, ctx *context.Context, structures *structure.Cache) (*RelativeTransformer, error) {
	config := ConfigFromContext(ctx)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if structures == nil {
		var err error
		structures, err = structure.NewCache(structure.DefaultCacheSize)
		if err != nil {
			return nil, err
		}
	}
	return &RelativeTransformer{
		backend:     backend,
		ctx:         ctx,
		config:      config,
		structures:  structures,
		BatchSize:   DefaultBatchSize,
		training:    true,
		gradEnabled: true,
	}, nil
}

// Config returns the model hyperparameters.
func (m *RelativeTransformer) Config() Config { return m.config }

// Context returns the GoMLX context holding the model variables and hyperparameters.
func (m *RelativeTransformer) Context() *context.Context { return m.ctx }

// Eval implements Model.
func (m *RelativeTransformer) Eval() { m.setTraining(false) }

// Train switches the model back to training mode, enabling dropout.
func (m *RelativeTransformer) Train() { m.setTraining(true) }

// IsTraining returns whether the model is in training mode.
func (m *RelativeTransformer) IsTraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.training
}

func (m *RelativeTransformer) setTraining(training bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.training == training {
		return
	}
	m.training = training
	// The compiled graphs depend on the training mode.
	m.exec = nil
}

// SetGradEnabled implements Model.
func (m *RelativeTransformer) SetGradEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gradEnabled = enabled
	m.applyTrainable()
}

// applyTrainable marks the variables created so far. It must be called with m.mu held.
func (m *RelativeTransformer) applyTrainable() {
	for v := range m.ctx.IterVariables() {
		v.SetTrainable(m.gradEnabled)
	}
}

// Forward implements Model.
func (m *RelativeTransformer) Forward(ctx gocontext.Context, batch *encoding.Batch, pdbFn string) (*tensors.Tensor, error) {
	if batch.Kind != m.config.InputEncoding {
		return nil, errors.Wrapf(ErrEncodingMismatch, "batch is %q, model expects %q", batch.Kind, m.config.InputEncoding)
	}
	numVariants := batch.Len()
	if numVariants == 0 {
		return nil, errors.New("no variants to score")
	}
	relPos, err := m.structures.Load(ctx, pdbFn, m.config.StructureOptions(), batch.SeqLen())
	if err != nil {
		return nil, err
	}
	relPosT := relPos.Tensor()
	defer relPosT.FinalizeAll()

	batchSize := m.BatchSize
	if batchSize <= 0 || batchSize > numVariants {
		batchSize = numVariants
	}
	var bar *progress.Bar
	if m.Progress != nil {
		bar = progress.New(m.Progress, numVariants, "scoring")
		defer bar.Finish()
	}

	outputDim := m.config.OutputDim
	predictions := make([]float32, 0, numVariants*outputDim)
	for start := 0; start < numVariants; start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "scoring interrupted")
		}
		end := min(start+batchSize, numVariants)
		chunk, err := m.execChunk(batch.Slice(start, end), relPosT)
		if err != nil {
			return nil, errors.WithMessagef(err, "scoring variants %d to %d", start, end)
		}
		predictions = append(predictions, chunk...)
		if bar != nil {
			bar.Add(end - start)
		}
		klog.V(2).Infof("scored %d/%d variants", end, numVariants)
	}
	return tensors.FromFlatDataAndDimensions(predictions, numVariants, outputDim), nil
}

// execChunk runs the model on one chunk of the batch and returns its flat predictions.
func (m *RelativeTransformer) execChunk(chunk *encoding.Batch, relPos *tensors.Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec == nil {
		training := m.training
		var err error
		m.exec, err = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, seqs, relPos *Node) *Node {
			ctx.SetTraining(seqs.Graph(), training)
			return ConvertDType(BuildGraph(ctx, seqs, relPos), m.config.DType)
		})
		if err != nil {
			return nil, errors.WithMessage(err, "creating model executor")
		}
	}

	input := chunk.Tensor()
	defer input.FinalizeAll()
	var output *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var execErr error
		output, execErr = m.exec.Exec1(input, relPos)
		if execErr != nil {
			panic(execErr)
		}
	})
	if err != nil {
		return nil, err
	}
	defer output.FinalizeAll()
	// Variables are created on the first execution of a fresh model.
	if !m.gradEnabled {
		m.applyTrainable()
	}
	return tensors.CopyFlatData[float32](output), nil
}
