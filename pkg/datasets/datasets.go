// Package datasets holds the metadata of the deep mutational scanning datasets: for each
// dataset name, its wild-type sequence, the numbering offset of its variants and the
// structure (PDB) file of the protein.
//
// Metadata is read from a Store, opened with Open:
//
//   - A YAML file (the default, "data/dms_data/datasets.yml"), mapping dataset names to
//     their fields (wt_aa, wt_ofs, pdb_fn; other fields are ignored).
//   - A SQLite database (".db", ".sqlite" or ".sqlite3"), with a "datasets" table. Remote
//     databases are downloaded to a temporary file, removed when the store is closed.
package datasets

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultLocation of the datasets metadata file.
const DefaultLocation = "data/dms_data/datasets.yml"

// ErrNotFound is returned (wrapped) when a dataset name is not in the store.
var ErrNotFound = errors.New("dataset not found")

// Record is the metadata of one dataset.
type Record struct {
	Name string `yaml:"-"`

	// WTAA is the wild-type amino-acid sequence.
	WTAA string `yaml:"wt_aa"`

	// WTOffset is subtracted from the variant positions to obtain indices into WTAA.
	WTOffset int `yaml:"wt_ofs"`

	// PDBFn is the location of the structure file of the protein.
	PDBFn string `yaml:"pdb_fn"`
}

// Validate checks the record has the fields required for scoring.
func (r Record) Validate() error {
	if r.WTAA == "" {
		return errors.Errorf("dataset %q has no wild-type sequence (wt_aa)", r.Name)
	}
	if r.PDBFn == "" {
		return errors.Errorf("dataset %q has no structure file (pdb_fn)", r.Name)
	}
	return nil
}

// Store is a read-only lookup of dataset records by name.
type Store interface {
	Lookup(ctx context.Context, name string) (Record, error)
}

// Open the store at location, picking the backend by its extension.
func Open(ctx context.Context, location string) (Store, error) {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".db", ".sqlite", ".sqlite3":
		s, err := openSQLite(ctx, location)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := LoadYAML(ctx, location)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// MapStore is an in-memory Store.
type MapStore map[string]Record

// Lookup implements Store.
func (m MapStore) Lookup(_ context.Context, name string) (Record, error) {
	r, found := m[name]
	if !found {
		return Record{}, errors.Wrapf(ErrNotFound, "%q", name)
	}
	r.Name = name
	return r, nil
}

// Names returns the dataset names in the store, in no particular order.
func (m MapStore) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}
