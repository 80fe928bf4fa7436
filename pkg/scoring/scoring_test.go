package scoring

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/metl/pkg/datasets"
	"github.com/gomlx/metl/pkg/encoding"
	"github.com/gomlx/metl/pkg/model"
)

// recorder collects the calls made to the stubs, in order.
type recorder struct {
	calls []string
}

func (r *recorder) add(call string) { r.calls = append(r.calls, call) }

type stubStore struct {
	rec     *recorder
	records datasets.MapStore
}

func (s *stubStore) Lookup(ctx context.Context, name string) (datasets.Record, error) {
	s.rec.add("lookup:" + name)
	return s.records.Lookup(ctx, name)
}

type stubEncoder struct {
	rec      *recorder
	variants []string
	wtAA     string
	wtOffset int
}

func (e *stubEncoder) Encode(variantStrs []string, wtAA string, wtOffset int) (*encoding.Batch, error) {
	e.rec.add("encode")
	e.variants, e.wtAA, e.wtOffset = variantStrs, wtAA, wtOffset
	return encoding.New(encoding.DefaultConfig()).Encode(variantStrs, wtAA, wtOffset)
}

type stubModel struct {
	rec         *recorder
	training    bool
	gradEnabled bool

	// Observed during Forward.
	trainingAtForward, gradAtForward bool
	inputDims                        []int
	pdbFn                            string
}

func (m *stubModel) Eval() {
	m.rec.add("eval")
	m.training = false
}

func (m *stubModel) SetGradEnabled(enabled bool) {
	m.rec.add("no_grad")
	m.gradEnabled = enabled
}

func (m *stubModel) Forward(_ context.Context, batch *encoding.Batch, pdbFn string) (*tensors.Tensor, error) {
	m.rec.add("forward")
	m.trainingAtForward, m.gradAtForward = m.training, m.gradEnabled
	input := batch.Tensor()
	m.inputDims = input.Shape().Dimensions
	m.pdbFn = pdbFn
	scores := make([]float32, batch.Len())
	for ii := range scores {
		scores[ii] = float32(ii) + 0.5
	}
	return tensors.FromFlatDataAndDimensions(scores, batch.Len(), 1), nil
}

type stubLoader struct {
	rec   *recorder
	model *stubModel
	err   error
}

func (l *stubLoader) Load(_ context.Context, path string) (model.Model, error) {
	l.rec.add("load:" + path)
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

type fixture struct {
	rec     *recorder
	store   *stubStore
	encoder *stubEncoder
	model   *stubModel
	loader  *stubLoader
}

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec: rec,
		store: &stubStore{rec: rec, records: datasets.MapStore{
			"D":       {Name: "D", WTAA: "AC", WTOffset: 0, PDBFn: "x.pdb"},
			"shifted": {Name: "shifted", WTAA: "MKTAY", WTOffset: 10, PDBFn: "shifted.pdb"},
		}},
		encoder: &stubEncoder{rec: rec},
		model:   &stubModel{rec: rec, training: true, gradEnabled: true},
	}
	f.loader = &stubLoader{rec: rec, model: f.model}
	return f
}

func (f *fixture) deps() Deps {
	return Deps{Store: f.store, Encoder: f.encoder, Loader: f.loader}
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture()
	result, err := Run(context.Background(), Options{CheckpointPath: "model.safetensors", Variants: "A1C_A1C", Dataset: "D"}, f.deps())
	require.NoError(t, err)

	require.Equal(t, []string{"A1C", "A1C"}, f.encoder.variants)
	require.Equal(t, "AC", f.encoder.wtAA)
	require.Equal(t, 0, f.encoder.wtOffset)
	require.Equal(t, []int{2, 2}, f.model.inputDims)
	require.Equal(t, "x.pdb", f.model.pdbFn)

	require.Equal(t, []string{"A1C", "A1C"}, result.Variants)
	require.Equal(t, datasets.Record{Name: "D", WTAA: "AC", WTOffset: 0, PDBFn: "x.pdb"}, result.Dataset)
	require.Equal(t, []int{2, 1}, result.Predictions.Shape().Dimensions)
}

func TestRunDatasetLookup(t *testing.T) {
	f := newFixture()
	result, err := Run(context.Background(), Options{CheckpointPath: "ckpt", Variants: "K11A", Dataset: "shifted"}, f.deps())
	require.NoError(t, err)
	require.Equal(t, datasets.Record{Name: "shifted", WTAA: "MKTAY", WTOffset: 10, PDBFn: "shifted.pdb"}, result.Dataset)
	require.Equal(t, "MKTAY", f.encoder.wtAA)
	require.Equal(t, 10, f.encoder.wtOffset)
	require.Equal(t, "shifted.pdb", f.model.pdbFn)
}

func TestRunPreservesOrder(t *testing.T) {
	f := newFixture()
	list := "C1A_A0C_A0C,C1Y_wt_C1W"
	result, err := Run(context.Background(), Options{CheckpointPath: "ckpt", Variants: list, Dataset: "D"}, f.deps())
	require.NoError(t, err)
	want := strings.Split(list, "_")
	require.Len(t, f.encoder.variants, 5)
	require.Equal(t, want, f.encoder.variants)
	require.Equal(t, want, result.Variants)
	require.Equal(t, []int{5, 2}, f.model.inputDims)
}

func TestRunUnknownDataset(t *testing.T) {
	f := newFixture()
	_, err := Run(context.Background(), Options{CheckpointPath: "ckpt", Variants: "A1C", Dataset: "missing"}, f.deps())
	require.ErrorIs(t, err, datasets.ErrNotFound)
	require.Equal(t, []string{"load:ckpt", "lookup:missing"}, f.rec.calls)
	require.Nil(t, f.encoder.variants)
	require.Nil(t, f.model.inputDims)
}

func TestRunEvalBeforeForward(t *testing.T) {
	f := newFixture()
	_, err := Run(context.Background(), Options{CheckpointPath: "ckpt", Variants: "A1C", Dataset: "D"}, f.deps())
	require.NoError(t, err)
	require.Equal(t, []string{"load:ckpt", "lookup:D", "encode", "eval", "no_grad", "forward"}, f.rec.calls)
	require.False(t, f.model.trainingAtForward)
	require.False(t, f.model.gradAtForward)
	// Gradient tracking isn't restored afterwards.
	require.False(t, f.model.gradEnabled)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	t.Run("MissingOptions", func(t *testing.T) {
		f := newFixture()
		_, err := Run(ctx, Options{Variants: "A1C"}, f.deps())
		require.ErrorContains(t, err, "checkpoint path, dataset")
		require.Empty(t, f.rec.calls)
	})
	t.Run("Loader", func(t *testing.T) {
		f := newFixture()
		f.loader.err = errors.New("corrupted checkpoint")
		_, err := Run(ctx, Options{CheckpointPath: "ckpt", Variants: "A1C", Dataset: "D"}, f.deps())
		require.ErrorContains(t, err, "corrupted checkpoint")
		require.Equal(t, []string{"load:ckpt"}, f.rec.calls)
	})
	t.Run("Encoder", func(t *testing.T) {
		f := newFixture()
		_, err := Run(ctx, Options{CheckpointPath: "ckpt", Variants: "A7C", Dataset: "D"}, f.deps())
		require.ErrorIs(t, err, encoding.ErrInvalidVariant)
		require.NotContains(t, f.rec.calls, "forward")
	})
	t.Run("EmptyEntry", func(t *testing.T) {
		f := newFixture()
		_, err := Run(ctx, Options{CheckpointPath: "ckpt", Variants: "A1C__A1C", Dataset: "D"}, f.deps())
		require.Error(t, err)
		require.NotContains(t, f.rec.calls, "encode")
	})
}

func TestResultPrint(t *testing.T) {
	result := &Result{
		Variants:    []string{"A1C", "_wt"},
		Predictions: tensors.FromFlatDataAndDimensions([]float32{0.5, 1.5}, 2, 1),
	}
	var buf bytes.Buffer
	require.NoError(t, result.Print(&buf, FormatRaw))
	require.Equal(t, result.Predictions.String()+"\n", buf.String())

	buf.Reset()
	require.NoError(t, result.Print(&buf, FormatTable))
	require.Contains(t, buf.String(), "A1C")
	require.Contains(t, buf.String(), "1.5")

	require.Error(t, result.Print(&buf, "xml"))

	// Tables need float32 predictions.
	result.Predictions = tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2, 1)
	require.Error(t, result.Print(&buf, FormatTable))
}
