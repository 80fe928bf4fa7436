// metl_score scores protein variants with a pretrained structure-aware model.
//
// Example:
//
//	metl_score --ckpt_path=models/gb1.safetensors --dataset=gb1 --variants="E3K,G102S_T36P"
//
// The predictions are printed to stdout, one row per variant.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	gomlxctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/pkg/datasets"
	"github.com/gomlx/metl/pkg/encoding"
	"github.com/gomlx/metl/pkg/model"
	"github.com/gomlx/metl/pkg/scoring"
	"github.com/gomlx/metl/pkg/structure"
)

var (
	flagCheckpoint = flag.String("ckpt_path", "", "Model checkpoint: a GoMLX checkpoint directory or a .safetensors file. Required.")
	flagVariants   = flag.String("variants", "", `Variants to score, separated by "_". Mutations within a variant are separated by ",", e.g. "E3K,G102S_T36P". Required.`)
	flagDataset    = flag.String("dataset", "", "Name of the dataset, used to look up the wild-type sequence, offset and structure. Required.")

	flagDatasets = flag.String("datasets", datasets.DefaultLocation,
		"Datasets metadata: a YAML file, or a SQLite database (.db, .sqlite, .sqlite3). Local path or URL.")
	flagEncoding = flag.String("encoding", string(encoding.IntSeqs),
		fmt.Sprintf("Encoding of the variants: %q or %q. It must match the model.", encoding.IntSeqs, encoding.OneHot))
	flagIndexing = flag.String("indexing", string(encoding.ZeroIndexed),
		fmt.Sprintf("Indexing of the variant positions: %q or %q.", encoding.ZeroIndexed, encoding.OneIndexed))
	flagStrict    = flag.Bool("strict", false, "Check the wild-type residue of each mutation matches the dataset sequence.")
	flagBatchSize = flag.Int("batch_size", model.DefaultBatchSize, "Maximum number of variants scored per model execution.")
	flagBackend   = flag.String("backend", "", "Backend configuration, e.g. \"xla:cpu\" or \"go\". Defaults to GOMLX_BACKEND or auto-detect.")
	flagFormat    = flag.String("format", scoring.FormatRaw,
		fmt.Sprintf("Output format: %q prints the predictions tensor, %q prints a table.", scoring.FormatRaw, scoring.FormatTable))
	flagProgress = flag.Bool("progress", false, "Display a progress bar on stderr while scoring.")

	// flagSettings overrides hyperparameters of the loaded model, see commandline.CreateContextSettingsFlag.
	flagSettings *string
)

func main() {
	klog.InitFlags(nil)
	defaultsCtx := gomlxctx.New()
	model.DefaultConfig().SetParams(defaultsCtx)
	flagSettings = commandline.CreateContextSettingsFlag(defaultsCtx, "set")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --ckpt_path=<path> --variants=<variants> --dataset=<name> [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if err := validateFlags(flag.Args()); err != nil {
		fmt.Fprintf(flag.CommandLine.Output(), "%v\n\n", err)
		flag.Usage()
		os.Exit(exitCode(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx); err != nil {
		klog.Errorf("Failed: %+v", err)
		cancel()
		klog.Flush()
		os.Exit(exitCode(err))
	}
}

// errUsage marks command-line usage errors.
var errUsage = errors.New("usage error")

// exitCode is 2 for usage errors and 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

// validateFlags checks the required flags are set, the enumerated ones have valid values,
// and no positional arguments are given.
func validateFlags(args []string) error {
	if missing := missingFlags(); len(missing) > 0 {
		return errors.Wrapf(errUsage, "missing required flag(s): %s", strings.Join(missing, ", "))
	}
	if len(args) > 0 {
		return errors.Wrapf(errUsage, "unexpected arguments: %v", args)
	}
	if _, err := encoding.ParseKind(*flagEncoding); err != nil {
		return errors.Wrapf(errUsage, "--encoding: %v", err)
	}
	if _, err := encoding.ParseIndexing(*flagIndexing); err != nil {
		return errors.Wrapf(errUsage, "--indexing: %v", err)
	}
	if *flagFormat != scoring.FormatRaw && *flagFormat != scoring.FormatTable {
		return errors.Wrapf(errUsage, "invalid --format=%q", *flagFormat)
	}
	return nil
}

func missingFlags() (missing []string) {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"--ckpt_path", *flagCheckpoint},
		{"--variants", *flagVariants},
		{"--dataset", *flagDataset},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return
}

func run(ctx context.Context) error {
	kind, err := encoding.ParseKind(*flagEncoding)
	if err != nil {
		return err
	}
	indexing, err := encoding.ParseIndexing(*flagIndexing)
	if err != nil {
		return err
	}
	store, err := datasets.Open(ctx, *flagDatasets)
	if err != nil {
		return errors.WithMessage(err, "opening datasets metadata")
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Finalize()
	klog.V(1).Infof("backend: %s", backend.Name())

	structures, err := structure.NewCache(structure.DefaultCacheSize)
	if err != nil {
		return err
	}
	loader := model.CheckpointLoader{
		Backend:    backend,
		Structures: structures,
		BatchSize:  *flagBatchSize,
	}
	if flagSettings != nil {
		loader.Settings = *flagSettings
	}
	if *flagProgress {
		loader.Progress = os.Stderr
	}

	result, err := scoring.Run(ctx, scoring.Options{
		CheckpointPath: *flagCheckpoint,
		Variants:       *flagVariants,
		Dataset:        *flagDataset,
	}, scoring.Deps{
		Store:   store,
		Encoder: encoding.New(encoding.Config{Kind: kind, Indexing: indexing, Strict: *flagStrict}),
		Loader:  loader,
	})
	if err != nil {
		return err
	}
	return result.Print(os.Stdout, *flagFormat)
}

func newBackend() (backends.Backend, error) {
	if *flagBackend != "" {
		backend, err := backends.NewWithConfig(*flagBackend)
		return backend, errors.WithMessagef(err, "creating backend %q", *flagBackend)
	}
	backend, err := backends.New()
	return backend, errors.WithMessage(err, "creating backend")
}
