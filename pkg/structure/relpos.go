package structure

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

const (
	// DefaultContactThreshold is the maximum distance, in Ångströms, for two residues to be in contact.
	DefaultContactThreshold = 8.0

	// DefaultMaxDistance is the graph distance at which relative positions are clipped.
	DefaultMaxDistance = 3
)

// ErrLengthMismatch is returned when the structure doesn't match the wild-type length.
var ErrLengthMismatch = errors.New("structure length mismatch")

// Options for building relative positions.
type Options struct {
	ContactThreshold float64
	MaxDistance      int
}

// DefaultOptions returns the default contact threshold and clipping distance.
func DefaultOptions() Options {
	return Options{ContactThreshold: DefaultContactThreshold, MaxDistance: DefaultMaxDistance}
}

// RelativePositions is a square matrix of clipped contact-graph distances between residues.
// Values are in [0, MaxDistance], and can be used directly as indices into an embedding
// table with MaxDistance+1 entries.
type RelativePositions struct {
	Size        int
	MaxDistance int
	Data        []int32 // Row-major, Size*Size.
}

// At returns the relative position between residues i and j.
func (rp *RelativePositions) At(i, j int) int32 {
	return rp.Data[i*rp.Size+j]
}

// Tensor returns the matrix as a [Size, Size] int32 tensor.
func (rp *RelativePositions) Tensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(rp.Data, rp.Size, rp.Size)
}

// ContactGraph returns the adjacency lists of residues in contact.
// Residues without CA and CB are left unconnected.
func (s *Structure) ContactGraph(threshold float64) [][]int {
	n := s.Len()
	adjacency := make([][]int, n)
	thresholdSq := threshold * threshold
	for i := 0; i < n; i++ {
		pi, ok := s.Residues[i].Representative()
		if !ok {
			continue
		}
		for j := i + 1; j < n; j++ {
			pj, ok := s.Residues[j].Representative()
			if !ok {
				continue
			}
			if distanceSq(pi, pj) <= thresholdSq {
				adjacency[i] = append(adjacency[i], j)
				adjacency[j] = append(adjacency[j], i)
			}
		}
	}
	return adjacency
}

// RelativePositions computes the all-pairs hop distances in the contact graph, clipped at
// opts.MaxDistance. Unreachable pairs are set to opts.MaxDistance.
func (s *Structure) RelativePositions(opts Options) (*RelativePositions, error) {
	if opts.MaxDistance <= 0 {
		return nil, errors.Errorf("max relative distance must be > 0, got %d", opts.MaxDistance)
	}
	if opts.ContactThreshold <= 0 || math.IsNaN(opts.ContactThreshold) {
		return nil, errors.Errorf("contact threshold must be > 0, got %g", opts.ContactThreshold)
	}
	n := s.Len()
	adjacency := s.ContactGraph(opts.ContactThreshold)
	rp := &RelativePositions{
		Size:        n,
		MaxDistance: opts.MaxDistance,
		Data:        make([]int32, n*n),
	}
	maxDist := int32(opts.MaxDistance)
	dist := make([]int32, n)
	queue := make([]int, 0, n)
	for source := 0; source < n; source++ {
		for ii := range dist {
			dist[ii] = -1
		}
		dist[source] = 0
		queue = append(queue[:0], source)
		// Breadth-first search, stopping at maxDist hops.
		for head := 0; head < len(queue); head++ {
			node := queue[head]
			if dist[node] >= maxDist {
				continue
			}
			for _, next := range adjacency[node] {
				if dist[next] < 0 {
					dist[next] = dist[node] + 1
					queue = append(queue, next)
				}
			}
		}
		row := rp.Data[source*n : (source+1)*n]
		for target, d := range dist {
			if d < 0 || d > maxDist {
				d = maxDist
			}
			row[target] = d
		}
	}
	return rp, nil
}

func distanceSq(a, b Vec3) float64 {
	var sum float64
	for axis := range a {
		d := a[axis] - b[axis]
		sum += d * d
	}
	return sum
}
