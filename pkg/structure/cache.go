package structure

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/storage"
)

// DefaultCacheSize is the number of relative-position matrices kept by a Cache.
const DefaultCacheSize = 16

type cacheKey struct {
	location string
	opts     Options
}

// String is the key of in-flight loads.
func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%g|%d", k.location, k.opts.ContactThreshold, k.opts.MaxDistance)
}

// Cache loads structure files and keeps the most recently used relative positions.
// It is safe for concurrent use: concurrent requests for the same structure load it once.
type Cache struct {
	entries *lru.Cache[cacheKey, *RelativePositions]
	group   singleflight.Group

	// loadFn reads and converts one structure, LoadRelativePositions unless replaced in tests.
	loadFn func(ctx context.Context, location string, opts Options) (*RelativePositions, error)
}

// NewCache returns a Cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[cacheKey, *RelativePositions](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating structure cache")
	}
	return &Cache{entries: entries, loadFn: LoadRelativePositions}, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.entries.Len() }

// Load returns the relative positions of the structure at location, which can be a local
// path or a URL. If seqLen > 0 the structure must have exactly seqLen residues.
func (c *Cache) Load(ctx context.Context, location string, opts Options, seqLen int) (*RelativePositions, error) {
	key := cacheKey{location: location, opts: opts}
	if rp, found := c.entries.Get(key); found {
		return rp, checkLength(rp, location, seqLen)
	}
	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		if rp, found := c.entries.Get(key); found {
			return rp, nil
		}
		rp, err := c.loadFn(ctx, location, opts)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, rp)
		return rp, nil
	})
	if err != nil {
		return nil, err
	}
	rp := value.(*RelativePositions)
	return rp, checkLength(rp, location, seqLen)
}

// LoadRelativePositions reads the PDB file at location and computes its relative positions.
func LoadRelativePositions(ctx context.Context, location string, opts Options) (*RelativePositions, error) {
	data, err := storage.Read(ctx, location)
	if err != nil {
		return nil, errors.WithMessage(err, "loading structure")
	}
	s, err := ParsePDB(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing structure %q", location)
	}
	klog.V(1).Infof("structure %q: %d residues", location, s.Len())
	return s.RelativePositions(opts)
}

func checkLength(rp *RelativePositions, location string, seqLen int) error {
	if seqLen > 0 && rp.Size != seqLen {
		return errors.Wrapf(ErrLengthMismatch, "structure %q has %d residues, sequence has %d",
			location, rp.Size, seqLen)
	}
	return nil
}
