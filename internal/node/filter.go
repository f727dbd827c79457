package node

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is the node's probabilistic seen-set. It never forgets a key it was
// given, but may claim to know keys it was not.
type Filter struct {
	mu       sync.RWMutex
	bf       *bloom.BloomFilter
	capacity uint
	fpRate   float64
}

// NewFilter sizes a filter for capacity insertions at fpRate false positives.
func NewFilter(capacity uint, fpRate float64) *Filter {
	return &Filter{
		bf:       bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

func (f *Filter) Add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bf.AddString(key)
}

func (f *Filter) Test(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.TestString(key)
}

// TestAndAdd reports whether key was already present and adds it either way.
func (f *Filter) TestAndAdd(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bf.TestAndAddString(key)
}

// MarshalBinary serializes the filter for export and persistence.
func (f *Filter) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var buf bytes.Buffer
	if _, err := f.bf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing filter: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the filter contents with a serialized blob. On
// error the filter is unchanged.
func (f *Filter) UnmarshalBinary(blob []byte) error {
	bf, err := decodeFilter(blob)
	if err != nil {
		return err
	}
	f.replace(bf)
	return nil
}

func decodeFilter(blob []byte) (*bloom.BloomFilter, error) {
	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("decoding filter: %w", err)
	}
	return bf, nil
}

func (f *Filter) replace(bf *bloom.BloomFilter) {
	f.mu.Lock()
	f.bf = bf
	f.mu.Unlock()
}

// Rebuild replaces the filter with a fresh one holding exactly keys.
func (f *Filter) Rebuild(keys []string) {
	bf := bloom.NewWithEstimates(f.capacity, f.fpRate)
	for _, k := range keys {
		bf.AddString(k)
	}
	f.mu.Lock()
	f.bf = bf
	f.mu.Unlock()
}
