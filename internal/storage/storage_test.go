package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	location := "mem://localhost/storage_test/hello.txt"
	require.NoError(t, Write(ctx, location, []byte("hello")))
	data, err := Read(ctx, location)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, err = Read(ctx, "mem://localhost/storage_test/missing.txt")
	require.ErrorIs(t, err, ErrNotExist)
}

func TestLocalFiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	exists, err := Exists(ctx, path)
	require.NoError(t, err)
	require.True(t, exists)
	data, err := Read(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))

	local, ok := Local(path)
	require.True(t, ok)
	require.Equal(t, path, local)
	_, ok = Local("mem://localhost/x.txt")
	require.False(t, ok)
	require.False(t, IsURL(path))
	require.True(t, IsURL(URL(path)))
}
