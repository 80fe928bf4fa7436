package datasets

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/storage"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS datasets (
	name   TEXT PRIMARY KEY,
	wt_aa  TEXT NOT NULL,
	wt_ofs INTEGER NOT NULL DEFAULT 0,
	pdb_fn TEXT NOT NULL DEFAULT ''
)`

// SQLiteStore reads dataset records from the "datasets" table of a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// tmpPath is the downloaded copy of a remote database, if any.
	tmpPath string
}

// openSQLite opens a local database, or a downloaded copy of a remote one.
func openSQLite(ctx context.Context, location string) (*SQLiteStore, error) {
	if path, ok := storage.Local(location); ok {
		return OpenSQLite(path)
	}
	data, err := storage.Read(ctx, location)
	if err != nil {
		return nil, errors.WithMessage(err, "downloading datasets database")
	}
	f, err := os.CreateTemp("", "metl_datasets_*.db")
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary datasets database")
	}
	tmpPath := f.Name()
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, errors.Wrapf(err, "writing temporary datasets database %q", tmpPath)
	}
	klog.V(1).Infof("datasets database %q downloaded to %q", location, tmpPath)
	s, err := OpenSQLite(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	s.tmpPath = tmpPath
	return s, nil
}

// OpenSQLite opens the SQLite database at path read-only.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "opening datasets database %q", path)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "opening datasets database %q", path)
	}
	return &SQLiteStore{db: db}, nil
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(ctx context.Context, name string) (Record, error) {
	r := Record{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT wt_aa, wt_ofs, pdb_fn FROM datasets WHERE name = ?`, name).
		Scan(&r.WTAA, &r.WTOffset, &r.PDBFn)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "%q", name)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "querying dataset %q", name)
	}
	return r, nil
}

// Close the underlying database, and removes the downloaded copy of a remote one.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if s.tmpPath != "" {
		if rmErr := os.Remove(s.tmpPath); err == nil && rmErr != nil {
			err = errors.Wrapf(rmErr, "removing %q", s.tmpPath)
		}
	}
	return err
}

// WriteSQLite creates (or updates) the database at path with the given records.
func WriteSQLite(ctx context.Context, path string, records MapStore) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return errors.Wrapf(err, "creating datasets database %q", path)
	}
	defer func() { _ = db.Close() }()

	if _, err = db.ExecContext(ctx, createTableSQL); err != nil {
		return errors.Wrap(err, "creating datasets table")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO datasets (name, wt_aa, wt_ofs, pdb_fn) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "preparing insert")
	}
	defer func() { _ = stmt.Close() }()
	for name, r := range records {
		if _, err = stmt.ExecContext(ctx, name, r.WTAA, r.WTOffset, r.PDBFn); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "inserting dataset %q", name)
		}
	}
	return errors.Wrap(tx.Commit(), "committing datasets")
}
