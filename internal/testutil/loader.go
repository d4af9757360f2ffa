package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/tandem/internal/ir"
)

// StubLoader is a programmable loader for async relationship tests.
//
// Results and failures are registered per (record, field). Hold makes every
// call block until released, so tests can interleave pushes with an
// outstanding fetch. Each call is announced on Started.
//
// Thread-safety: StubLoader is safe for concurrent use via internal mutex.
type StubLoader struct {
	mu      sync.Mutex
	results map[string][]ir.Payload
	errs    map[string]error
	calls   map[string]int
	gate    chan struct{}
	started chan string
}

// NewStubLoader creates a loader that returns no members for every field
// until told otherwise.
func NewStubLoader() *StubLoader {
	return &StubLoader{
		results: make(map[string][]ir.Payload),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
		started: make(chan string, 64),
	}
}

func stubKey(key ir.Key, field string) string {
	return key.String() + "#" + field
}

// Set registers the payloads returned for (key, field) and clears any
// registered failure.
func (l *StubLoader) Set(key ir.Key, field string, payloads ...ir.Payload) *StubLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results[stubKey(key, field)] = payloads
	delete(l.errs, stubKey(key, field))
	return l
}

// Fail makes calls for (key, field) return err.
func (l *StubLoader) Fail(key ir.Key, field string, err error) *StubLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[stubKey(key, field)] = err
	return l
}

// Hold blocks every subsequent call until the returned release func runs.
func (l *StubLoader) Hold() (release func()) {
	gate := make(chan struct{})
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.gate == gate {
				l.gate = nil
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Started receives "type:id#field" each time a call begins.
func (l *StubLoader) Started() <-chan string {
	return l.started
}

// Calls returns how many times (key, field) was fetched.
func (l *StubLoader) Calls(key ir.Key, field string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[stubKey(key, field)]
}

// FetchRelated implements engine.Loader.
func (l *StubLoader) FetchRelated(ctx context.Context, key ir.Key, field string) ([]ir.Payload, error) {
	k := stubKey(key, field)

	l.mu.Lock()
	l.calls[k]++
	gate := l.gate
	l.mu.Unlock()

	select {
	case l.started <- k:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("stub loader: %w", ctx.Err())
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.errs[k]; ok {
		return nil, err
	}
	return append([]ir.Payload(nil), l.results[k]...), nil
}
