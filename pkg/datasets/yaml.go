package datasets

import (
	"context"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/storage"
)

// LoadYAML reads all records of the YAML metadata file at location.
func LoadYAML(ctx context.Context, location string) (MapStore, error) {
	data, err := storage.Read(ctx, location)
	if err != nil {
		return nil, errors.WithMessage(err, "loading datasets metadata")
	}
	store, err := ParseYAML(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing datasets metadata %q", location)
	}
	klog.V(1).Infof("loaded metadata of %d datasets from %q", len(store), location)
	return store, nil
}

// ParseYAML parses the contents of a YAML metadata file.
func ParseYAML(data []byte) (MapStore, error) {
	var records map[string]Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, "invalid YAML")
	}
	store := make(MapStore, len(records))
	for name, r := range records {
		r.Name = name
		store[name] = r
	}
	return store, nil
}
