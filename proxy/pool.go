package proxy

import (
	"errors"
	"fmt"
)

var ErrEmptyPool = errors.New("proxy pool needs at least one proxy")

// Pool holds an ordered set of proxy descriptors and a rotation cursor. The
// descriptor list is immutable after construction, only the cursor moves.
type Pool struct {
	descriptors []*Descriptor
	cursor      int
}

// NewPool parses every URL in the list and builds a pool over them. At least
// one URL is required.
func NewPool(urls []string) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyPool
	}

	descriptors := make([]*Descriptor, 0, len(urls))
	for _, rawURL := range urls {
		desc, err := Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("bad proxy URL %s: %w", SanitizeForDisplay(rawURL), err)
		}

		descriptors = append(descriptors, desc)
	}

	return &Pool{descriptors: descriptors}, nil
}

// Next returns the descriptor under the cursor and advances the cursor by one,
// wrapping around at the end of the list.
func (pool *Pool) Next() *Descriptor {
	desc := pool.descriptors[pool.cursor]
	pool.cursor = (pool.cursor + 1) % len(pool.descriptors)

	return desc
}

// Alternative returns the descriptor following index i in rotation order, or
// nil when the pool holds a single entry.
func (pool *Pool) Alternative(i int) *Descriptor {
	if len(pool.descriptors) <= 1 {
		return nil
	}

	return pool.descriptors[(i+1)%len(pool.descriptors)]
}

// Size returns number of descriptors in the pool.
func (pool *Pool) Size() int {
	return len(pool.descriptors)
}

// GetAt returns the descriptor at given index.
func (pool *Pool) GetAt(i int) *Descriptor {
	return pool.descriptors[i]
}

// All returns the descriptor list in pool order.
func (pool *Pool) All() []*Descriptor {
	return pool.descriptors
}

// Reset moves the rotation cursor back to the first descriptor.
func (pool *Pool) Reset() {
	pool.cursor = 0
}
