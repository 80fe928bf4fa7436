// Package storage reads and writes files addressed either by local paths or by URLs
// (file://, mem://, http(s)://, ...), so datasets metadata and structure files can
// live anywhere the underlying file system abstraction supports.
package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

var fs = afs.New()

// ErrNotExist is returned (wrapped) when a location doesn't exist.
var ErrNotExist = os.ErrNotExist

// IsURL returns whether location has a scheme, e.g. "mem://localhost/x.pdb".
func IsURL(location string) bool {
	return strings.Contains(location, "://")
}

// URL converts location to a URL: local paths are made absolute and given the "file" scheme.
func URL(location string) string {
	if IsURL(location) {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		location = abs
	}
	return url.Normalize(location, file.Scheme)
}

// Exists returns whether location exists.
func Exists(ctx context.Context, location string) (bool, error) {
	return fs.Exists(ctx, URL(location))
}

// Read returns the full contents of location.
func Read(ctx context.Context, location string) ([]byte, error) {
	u := URL(location)
	exists, err := fs.Exists(ctx, u)
	if err != nil {
		return nil, errors.Wrapf(err, "checking %q", location)
	}
	if !exists {
		return nil, errors.Wrapf(ErrNotExist, "%q", location)
	}
	data, err := fs.DownloadWithURL(ctx, u)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", location)
	}
	return data, nil
}

// Write stores data in location, creating parent folders as needed.
func Write(ctx context.Context, location string, data []byte) error {
	if err := fs.Upload(ctx, URL(location), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "writing %q", location)
	}
	return nil
}

// Local returns the local file path for location, if it is stored in the local file system.
func Local(location string) (path string, ok bool) {
	if !IsURL(location) {
		return location, true
	}
	if url.Scheme(location, "") == file.Scheme {
		return url.Path(location), true
	}
	return "", false
}
