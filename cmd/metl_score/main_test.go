package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// scoreFlags are the flags of metl_score, restored to their defaults after each test.
var scoreFlags = []string{"ckpt_path", "variants", "dataset", "datasets", "encoding", "indexing", "format"}

// setFlags sets the given flags, and restores the defaults at the end of the test.
func setFlags(t *testing.T, values map[string]string) {
	t.Helper()
	t.Cleanup(func() {
		for _, name := range scoreFlags {
			f := flag.Lookup(name)
			_ = f.Value.Set(f.DefValue)
		}
	})
	for name, value := range values {
		require.NoError(t, flag.Set(name, value))
	}
}

var requiredFlags = map[string]string{
	"ckpt_path": "models/gb1.safetensors",
	"variants":  "E3K,G102S_T36P",
	"dataset":   "gb1",
}

func TestValidateFlags(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		setFlags(t, map[string]string{"variants": "E3K"})
		err := validateFlags(nil)
		require.ErrorIs(t, err, errUsage)
		require.ErrorContains(t, err, "--ckpt_path, --dataset")
		require.Equal(t, 2, exitCode(err))
	})

	t.Run("valid", func(t *testing.T) {
		setFlags(t, requiredFlags)
		require.NoError(t, validateFlags(nil))
		require.Equal(t, 0, exitCode(nil))
	})

	t.Run("positional arguments", func(t *testing.T) {
		setFlags(t, requiredFlags)
		err := validateFlags([]string{"extra"})
		require.ErrorIs(t, err, errUsage)
		require.Equal(t, 2, exitCode(err))
	})

	for _, invalid := range []struct{ name, value string }{
		{"format", "csv"},
		{"encoding", "bytes"},
		{"indexing", "2_indexed"},
	} {
		t.Run("invalid "+invalid.name, func(t *testing.T) {
			setFlags(t, requiredFlags)
			require.NoError(t, flag.Set(invalid.name, invalid.value))
			err := validateFlags(nil)
			require.ErrorIs(t, err, errUsage)
			require.ErrorContains(t, err, invalid.name)
			require.Equal(t, 2, exitCode(err))
		})
	}
}

func TestRunFailure(t *testing.T) {
	setFlags(t, requiredFlags)
	require.NoError(t, flag.Set("datasets", filepath.Join(t.TempDir(), "missing.yml")))
	err := run(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, errUsage)
	require.Equal(t, 1, exitCode(err))
}
