package datasets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/metl/internal/storage"
)

const testYAML = `
D:
  wt_aa: AC
  wt_ofs: 0
  pdb_fn: x.pdb
gb1:
  ds_fn: data/dms_data/gb1/gb1.tsv
  wt_aa: MQYKLILNGKTLKGETTTEAVDAATAEKVFKQYANDNGVDGEWTYDDATKTFTVTE
  wt_ofs: 0
  pdb_fn: data/pdb_files/2qmt_p.pdb
shifted:
  wt_aa: MKT
  wt_ofs: 24
  pdb_fn: shifted.pdb
`

func TestYAMLStore(t *testing.T) {
	ctx := context.Background()
	location := "mem://localhost/datasets_test/datasets.yml"
	require.NoError(t, storage.Write(ctx, location, []byte(testYAML)))

	store, err := Open(ctx, location)
	require.NoError(t, err)

	r, err := store.Lookup(ctx, "D")
	require.NoError(t, err)
	require.Equal(t, Record{Name: "D", WTAA: "AC", WTOffset: 0, PDBFn: "x.pdb"}, r)
	require.NoError(t, r.Validate())

	r, err = store.Lookup(ctx, "shifted")
	require.NoError(t, err)
	require.Equal(t, 24, r.WTOffset)

	_, err = store.Lookup(ctx, "unknown")
	require.ErrorIs(t, err, ErrNotFound)

	require.ElementsMatch(t, []string{"D", "gb1", "shifted"}, store.(MapStore).Names())
}

func TestYAMLErrors(t *testing.T) {
	ctx := context.Background()
	_, err := LoadYAML(ctx, "mem://localhost/datasets_test/missing.yml")
	require.ErrorIs(t, err, storage.ErrNotExist)

	_, err = ParseYAML([]byte("D: [1, 2"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.Error(t, Record{Name: "x", PDBFn: "x.pdb"}.Validate())
	require.Error(t, Record{Name: "x", WTAA: "AC"}.Validate())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	records, err := ParseYAML([]byte(testYAML))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "datasets.db")
	require.NoError(t, WriteSQLite(ctx, path, records))

	store, err := Open(ctx, path)
	require.NoError(t, err)
	sqlStore := store.(*SQLiteStore)
	defer func() { require.NoError(t, sqlStore.Close()) }()

	r, err := store.Lookup(ctx, "D")
	require.NoError(t, err)
	require.Equal(t, Record{Name: "D", WTAA: "AC", WTOffset: 0, PDBFn: "x.pdb"}, r)

	r, err = store.Lookup(ctx, "shifted")
	require.NoError(t, err)
	require.Equal(t, 24, r.WTOffset)
	require.Equal(t, "shifted.pdb", r.PDBFn)

	_, err = store.Lookup(ctx, "unknown")
	require.ErrorIs(t, err, ErrNotFound)

	// Same database through a file:// URL.
	store, err = Open(ctx, "file://"+path)
	require.NoError(t, err)
	r, err = store.Lookup(ctx, "shifted")
	require.NoError(t, err)
	require.Equal(t, 24, r.WTOffset)
	require.NoError(t, store.(*SQLiteStore).Close())

	// Remote databases are read from a temporary copy.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	remote := "mem://localhost/datasets_test/datasets.db"
	require.NoError(t, storage.Write(ctx, remote, data))
	store, err = Open(ctx, remote)
	require.NoError(t, err)
	remoteStore := store.(*SQLiteStore)
	r, err = store.Lookup(ctx, "D")
	require.NoError(t, err)
	require.Equal(t, "x.pdb", r.PDBFn)
	require.FileExists(t, remoteStore.tmpPath)
	require.NoError(t, remoteStore.Close())
	require.NoFileExists(t, remoteStore.tmpPath)

	_, err = Open(ctx, "mem://localhost/datasets_test/missing.db")
	require.ErrorIs(t, err, storage.ErrNotExist)
}
