package multi

import (
	"fmt"

	"github.com/Sternrassler/curly/pkg/request"
)

// OperationSet is an ordered mapping from caller keys to operations.
// Insertion order drives chunking; completion order is unrelated.
type OperationSet[K comparable] struct {
	keys []K
	ops  map[K]*request.Operation
}

// NewOperationSet creates an empty set.
func NewOperationSet[K comparable]() *OperationSet[K] {
	return &OperationSet[K]{ops: make(map[K]*request.Operation)}
}

// Add appends op under key. A nil op is accepted and dropped at run time.
func (s *OperationSet[K]) Add(key K, op *request.Operation) error {
	if _, exists := s.ops[key]; exists {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	s.keys = append(s.keys, key)
	s.ops[key] = op
	return nil
}

// Get returns the operation stored under key.
func (s *OperationSet[K]) Get(key K) (*request.Operation, bool) {
	op, ok := s.ops[key]
	return op, ok
}

// Len returns the number of entries.
func (s *OperationSet[K]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the keys in insertion order.
func (s *OperationSet[K]) Keys() []K {
	out := make([]K, len(s.keys))
	copy(out, s.keys)
	return out
}

// Chunks partitions the set into ordered sub-sets of at most size entries.
// A non-positive size yields the whole set as a single chunk.
func (s *OperationSet[K]) Chunks(size int) []*OperationSet[K] {
	if size <= 0 || len(s.keys) <= size {
		return []*OperationSet[K]{s}
	}

	chunks := make([]*OperationSet[K], 0, (len(s.keys)+size-1)/size)
	for start := 0; start < len(s.keys); start += size {
		end := min(start+size, len(s.keys))
		chunk := &OperationSet[K]{
			keys: s.keys[start:end:end],
			ops:  make(map[K]*request.Operation, end-start),
		}
		for _, key := range chunk.keys {
			chunk.ops[key] = s.ops[key]
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
