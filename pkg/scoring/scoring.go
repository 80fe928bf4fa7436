// Package scoring runs a pretrained model over a list of variants of a dataset's protein.
//
// Run follows a straight sequence: load the model, look up the dataset metadata, encode the
// variants relative to the wild-type, switch the model to evaluation mode with gradients
// disabled, and run the forward pass.
package scoring

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/report"
	"github.com/gomlx/metl/pkg/datasets"
	"github.com/gomlx/metl/pkg/encoding"
	"github.com/gomlx/metl/pkg/model"
	"github.com/gomlx/metl/pkg/variants"
)

// Options of one scoring run.
type Options struct {
	// CheckpointPath of the model to load.
	CheckpointPath string

	// Variants separated by "_", e.g. "E3K,G102S_T36P".
	Variants string

	// Dataset name, looked up in the metadata Store.
	Dataset string
}

// Validate checks all options are set.
func (o Options) Validate() error {
	var missing []string
	if o.CheckpointPath == "" {
		missing = append(missing, "checkpoint path")
	}
	if o.Variants == "" {
		missing = append(missing, "variants")
	}
	if o.Dataset == "" {
		missing = append(missing, "dataset")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Deps are the components used by Run.
type Deps struct {
	Store   datasets.Store
	Encoder encoding.Encoder
	Loader  model.Loader
}

// Result of a scoring run.
type Result struct {
	Dataset  datasets.Record
	Variants []string

	// Predictions shaped [len(Variants), outputDim].
	Predictions *tensors.Tensor
}

// Run scores the variants of opts.Dataset with the model at opts.CheckpointPath.
// Any error aborts the run: there are no partial results.
func Run(ctx context.Context, opts Options, deps Deps) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Encoder == nil || deps.Loader == nil {
		return nil, errors.New("scoring requires a datasets store, an encoder and a model loader")
	}

	m, err := deps.Loader.Load(ctx, opts.CheckpointPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading model %q", opts.CheckpointPath)
	}

	record, err := deps.Store.Lookup(ctx, opts.Dataset)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("dataset %q: wild-type of %d residues, offset %d, structure %q",
		opts.Dataset, len(record.WTAA), record.WTOffset, record.PDBFn)

	variantList, err := variants.SplitList(opts.Variants)
	if err != nil {
		return nil, err
	}
	batch, err := deps.Encoder.Encode(variantList, record.WTAA, record.WTOffset)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding variants")
	}

	m.Eval()
	m.SetGradEnabled(false)
	predictions, err := m.Forward(ctx, batch, record.PDBFn)
	if err != nil {
		return nil, errors.WithMessage(err, "running model")
	}
	if dims := predictions.Shape().Dimensions; len(dims) == 0 || dims[0] != len(variantList) {
		return nil, errors.Errorf("model returned predictions of shape %s for %d variants",
			predictions.Shape(), len(variantList))
	}
	return &Result{Dataset: record, Variants: variantList, Predictions: predictions}, nil
}

// Output formats of Result.Print.
const (
	FormatRaw   = "raw"
	FormatTable = "table"
)

// Print writes the predictions to w.
//
// FormatRaw writes the predictions tensor as is. FormatTable writes one row per variant.
func (r *Result) Print(w io.Writer, format string) error {
	switch format {
	case "", FormatRaw:
		_, err := fmt.Fprintln(w, r.Predictions)
		return err
	case FormatTable:
		dims := r.Predictions.Shape().Dimensions
		outputDim := 1
		if len(dims) > 1 {
			outputDim = r.Predictions.Shape().Size() / dims[0]
		}
		flat, err := r.flatPredictions()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, report.Scores(r.Variants, flat, outputDim).Render())
		return err
	}
	return errors.Errorf("unknown output format %q, valid values are %q and %q", format, FormatRaw, FormatTable)
}

func (r *Result) flatPredictions() (flat []float32, err error) {
	err = exceptions.TryCatch[error](func() {
		tensors.ConstFlatData(r.Predictions, func(data []float32) {
			flat = append(flat, data...)
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading predictions")
	}
	return flat, nil
}
