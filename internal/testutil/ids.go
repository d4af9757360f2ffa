package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates temporary record ids "<prefix>-1", "<prefix>-2", ...
//
// Unlike engine.FixedGenerator, which needs every id declared up front,
// SequentialIDs never runs out. The same test run twice produces the same
// ids, which keeps snapshots of locally created records comparable.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "tmp".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "tmp"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
