package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	gomlxctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/metl/pkg/model"
)

func TestShortNames(t *testing.T) {
	require.Equal(t, []string{"a.safetensors", "b"}, shortNames([]string{"/x/a.safetensors", "/x/b"}))
	require.Equal(t, []string{"v1/gb1", "v2/gb1"}, shortNames([]string{"models/v1/gb1", "models/v2/gb1/"}))
	require.Equal(t, []string{"gb1", "gb1"}, shortNames([]string{"gb1", "gb1"}))
}

func TestConvertAndExport(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	// Source model: hyperparameters and one variable.
	gctx := gomlxctx.New()
	config := model.DefaultConfig()
	config.NumLayers = 1
	config.SetParams(gctx)
	weights := []float32{1, 2, 3, 4, 5, 6}
	gctx.In("head").In("output").In("dense").VariableWithValue("weights",
		tensors.FromFlatDataAndDimensions(weights, 3, 2))
	source := filepath.Join(tmpDir, "source.safetensors")
	require.NoError(t, model.SaveSafetensors(ctx, gctx, source))

	// Convert to a GoMLX checkpoint.
	dir := filepath.Join(tmpDir, "checkpoint")
	require.NoError(t, Convert(ctx, source, dir))
	require.Error(t, Convert(ctx, source, dir), "converting to a non-empty directory must fail")

	converted, err := model.LoadContext(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, 1, model.ConfigFromContext(converted).NumLayers)
	v := converted.GetVariableByScopeAndName("/head/output/dense", "weights")
	require.NotNil(t, v)
	require.Equal(t, weights, tensors.CopyFlatData[float32](v.Value()))

	// Export back to safetensors.
	exported := filepath.Join(tmpDir, "exported.safetensors")
	require.NoError(t, Export(ctx, dir, exported))
	require.Error(t, Export(ctx, dir, filepath.Join(tmpDir, "exported.bin")))
	roundTrip, err := model.LoadContext(ctx, exported)
	require.NoError(t, err)
	v = roundTrip.GetVariableByScopeAndName("/head/output/dense", "weights")
	require.NotNil(t, v)
	require.Equal(t, weights, tensors.CopyFlatData[float32](v.Value()))
}
