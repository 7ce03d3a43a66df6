// Package store holds the captured run as three parallel x/y/z sequences.
// Appends happen one batch at a time under a write lock so readers never see
// axes of different lengths.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/magmon/internal/packet"
)

var (
	// ErrCapacity is returned when a batch would grow the store past its
	// sample limit. The store is left unchanged.
	ErrCapacity = errors.New("buffer store capacity exhausted")
	ErrReleased = errors.New("buffer store released")
)

// Store is the growable x/y/z buffer. Only the acquisition consumer appends;
// any goroutine may read.
type Store struct {
	mu       sync.RWMutex
	x, y, z  []float64
	limit    int
	released bool
}

// New returns an empty store that refuses to grow beyond limit samples.
// A limit of zero means unbounded.
func New(limit int) *Store {
	return &Store{limit: limit}
}

// AppendBatch appends every sample of batch, in order, to all three axes.
func (s *Store) AppendBatch(batch []packet.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	n := len(s.x)
	if s.limit > 0 && n+len(batch) > s.limit {
		return fmt.Errorf("%w: %d + %d samples exceeds limit %d", ErrCapacity, n, len(batch), s.limit)
	}

	x, y, z := grow(s.x, len(batch)), grow(s.y, len(batch)), grow(s.z, len(batch))
	for _, smp := range batch {
		x = append(x, smp.X)
		y = append(y, smp.Y)
		z = append(z, smp.Z)
	}
	s.x, s.y, s.z = x, y, z
	return nil
}

// grow makes room for n more values, doubling capacity when it runs out.
func grow(v []float64, n int) []float64 {
	if cap(v)-len(v) >= n {
		return v
	}
	newCap := 2 * cap(v)
	if newCap < len(v)+n {
		newCap = len(v) + n
	}
	out := make([]float64, len(v), newCap)
	copy(out, v)
	return out
}

// Count returns the number of samples stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.x)
}

// Limit returns the configured sample limit (0 = unbounded).
func (s *Store) Limit() int { return s.limit }

// At returns sample i. It panics if i is out of range.
func (s *Store) At(i int) packet.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return packet.Sample{X: s.x[i], Y: s.y[i], Z: s.z[i]}
}

// Slice copies samples [from, to) of each axis.
func (s *Store) Slice(from, to int) (x, y, z []float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 0 || to > len(s.x) || from > to {
		return nil, nil, nil, fmt.Errorf("slice [%d:%d] out of range for %d samples", from, to, len(s.x))
	}
	return clone(s.x[from:to]), clone(s.y[from:to]), clone(s.z[from:to]), nil
}

// Snapshot copies every stored sample.
func (s *Store) Snapshot() (x, y, z []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.x), clone(s.y), clone(s.z)
}

// Release frees the buffers. Further appends fail with ErrReleased.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y, s.z = nil, nil, nil
	s.released = true
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
