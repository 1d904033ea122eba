package soap

import (
	"context"
	"fmt"
	"sync"
)

// MemorySink keeps artifacts in memory. It is safe for concurrent use and is
// mainly useful in tests and short-lived tools.
type MemorySink struct {
	mu        sync.RWMutex
	artifacts map[string][]byte
	names     []string
	tokens    []string
	open      int
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{artifacts: make(map[string][]byte)}
}

// Open registers token.
func (s *MemorySink) Open(ctx context.Context, token string) (SinkWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	s.open++
	return &memoryWriter{sink: s}, nil
}

// Get returns a copy of the named artifact.
func (s *MemorySink) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[name]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Names returns artifact names in write order.
func (s *MemorySink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Tokens returns the tokens of all opened records in order.
func (s *MemorySink) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// OpenWriters reports writers that were opened but not yet closed.
func (s *MemorySink) OpenWriters() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

type memoryWriter struct {
	sink   *MemorySink
	closed bool
}

func (w *memoryWriter) Put(_ context.Context, name string, data []byte) error {
	s := w.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[name]; ok {
		return fmt.Errorf("%w: %s", ErrArtifactExists, name)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.artifacts[name] = stored
	s.names = append(s.names, name)
	return nil
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.sink.mu.Lock()
	w.sink.open--
	w.sink.mu.Unlock()
	return nil
}
