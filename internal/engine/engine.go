package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/relstate"
	"github.com/roach88/tandem/internal/schema"
)

// Loader materializes async relationship fields.
//
// FetchRelated returns the payloads of the records related to key through
// field, in membership order. Returned payloads are ingested like pushes
// before the membership is merged, so a loader may include attributes and
// relationships of the members it returns. A returned error surfaces to
// waiters as a LOAD_ERROR.
type Loader interface {
	FetchRelated(ctx context.Context, key ir.Key, field string) ([]ir.Payload, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, key ir.Key, field string) ([]ir.Payload, error)

// FetchRelated calls f.
func (f LoaderFunc) FetchRelated(ctx context.Context, key ir.Key, field string) ([]ir.Payload, error) {
	return f(ctx, key, field)
}

// IDGenerator produces temporary ids for locally created records.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator = identity.IDGenerator

// Engine is the store context: it owns the identity map, the frozen schema
// registry and the loader, and every operation goes through it.
//
// Thread-safety model:
//   - All mutations run to completion under one mutex. After any mutating
//     call returns, both sides of every inverse pair agree.
//   - A fetch releases the mutex only around the loader call; its result is
//     merged under the mutex again, checked for staleness first.
//   - Record handles are read without locking. Callers that share handles
//     across goroutines must not read them while an operation is running.
type Engine struct {
	mu sync.Mutex

	registry *schema.Registry
	ids      *identity.Map
	loader   Loader
	clock    *Clock

	logger       *slog.Logger
	metrics      *metrics.Metrics
	flights      singleflight.Group
	fetchTimeout time.Duration
	idGen        IDGenerator
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator sets the temporary id source for CreateRecord.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.idGen = g
	}
}

// WithMetrics records engine activity on m. Default: no metrics.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithFetchTimeout bounds each loader call. Zero means no bound beyond the
// caller's context.
func WithFetchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.fetchTimeout = d
	}
}

// New creates an Engine over reg. The registry is frozen if it is not
// already; a registry that fails to freeze is rejected.
//
// loader may be nil. Async fields then materialize from whatever canonical
// membership is already known.
func New(reg *schema.Registry, loader Loader, opts ...EngineOption) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("engine: registry is required")
	}
	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		registry: reg,
		loader:   loader,
		clock:    NewClock(),
		logger:   slog.Default(),
		idGen:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ids = identity.NewMap(e.idGen)
	return e, nil
}

// Registry returns the engine's frozen schema registry.
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Push ingests one canonical payload for typ. Attributes are merged, and
// every relationship field present in the payload is replaced by the listed
// members and mirrored onto the inverse side. Referenced members that are
// not yet known get empty, unmaterialized records.
//
// The payload is validated in full before anything changes.
func (e *Engine) Push(typ string, p ir.Payload) (*identity.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.push(typ, p)
}

// CreateRecord allocates a locally created record with a temporary id. Its
// attributes are local changes and every relationship field starts empty.
func (e *Engine) CreateRecord(typ string, attrs ir.Object) (*identity.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	model, err := e.model(typ)
	if err != nil {
		return nil, err
	}
	if err := checkAttributes(model, ir.Key{Type: typ}, attrs); err != nil {
		return nil, err
	}

	rec := e.ids.RegisterLocal(typ)
	for _, name := range attrs.SortedKeys() {
		rec.SetAttribute(name, attrs[name])
	}
	for _, f := range model.Fields {
		st := rec.State(f.Name)
		// Nothing canonical exists to fetch for a record the server has
		// never seen.
		st.MergeCanonical(nil, relstate.OriginFetch, e.clock.Current())
	}

	e.logger.Info("record created", "record", rec.Key().String())
	return rec, nil
}

// SetAttribute records a local attribute change on rec.
func (e *Engine) SetAttribute(rec *identity.Record, name string, v ir.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLive(rec); err != nil {
		return err
	}
	model, err := e.model(rec.Type())
	if err != nil {
		return err
	}
	if err := checkAttributes(model, rec.Key(), ir.Object{name: v}); err != nil {
		return err
	}
	rec.SetAttribute(name, v)
	return nil
}

// Lookup returns the record for (typ, id).
func (e *Engine) Lookup(typ, id string) (*identity.Record, error) {
	return e.LookupKey(ir.NewKey(typ, id))
}

// LookupKey returns the record for key, or a NOT_FOUND error.
func (e *Engine) LookupKey(key ir.Key) (*identity.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.ids.LookupKey(key)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: "no record for key", Key: key, Err: err}
	}
	return rec, nil
}

// Records returns every record in the identity map ordered by key.
func (e *Engine) Records() []*identity.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ids.Records()
}

// Unload removes rec from the identity map and from every relationship
// state that names it. Partners lose the member without further
// propagation, and rec's handle stops working.
func (e *Engine) Unload(rec *identity.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLive(rec); err != nil {
		return err
	}
	touched, err := e.ids.Unload(rec.Key(), e.clock.Next())
	if err != nil {
		return &Error{Code: CodeNotFound, Message: "unload failed", Key: rec.Key(), Err: err}
	}
	e.metrics.Unload()
	e.logger.Info("record unloaded", "record", rec.Key().String(), "partners", len(touched))
	return nil
}

// Preload materializes several async fields of rec concurrently, each
// through its own shared fetch. With no field names every async field of
// rec's model is loaded. Sync fields are skipped.
func (e *Engine) Preload(ctx context.Context, rec *identity.Record, fields ...string) error {
	if len(fields) == 0 {
		all, err := e.registry.Fields(rec.Type())
		if err != nil {
			return &Error{Code: CodeUnknownType, Message: "unknown model type", Key: rec.Key(), Err: err}
		}
		for _, f := range all {
			if f.Async {
				fields = append(fields, f.Name)
			}
		}
	}

	var views []*AsyncCollection
	for _, name := range fields {
		v, err := e.Relationship(rec, name)
		if err != nil {
			return err
		}
		if async, ok := v.(*AsyncCollection); ok {
			views = append(views, async)
		}
	}
	return preload(ctx, views)
}

func (e *Engine) model(typ string) (*schema.Model, error) {
	m, err := e.registry.Model(typ)
	if err != nil {
		return nil, &Error{Code: CodeUnknownType, Message: fmt.Sprintf("unknown model type %q", typ), Err: err}
	}
	return m, nil
}

func (e *Engine) field(rec *identity.Record, name string) (*schema.Field, error) {
	f, err := e.registry.Field(rec.Type(), name)
	if err != nil {
		return nil, &Error{Code: CodeUnknownField, Message: "unknown relationship field", Key: rec.Key(), Field: name, Err: err}
	}
	return f, nil
}

// checkLive rejects handles that are no longer the identity map's record
// for their key.
func (e *Engine) checkLive(rec *identity.Record) error {
	if rec == nil {
		return newError(CodeNotFound, ir.Key{}, "", "record is nil")
	}
	if !e.ids.Contains(rec) {
		return unloadedError(rec.Key())
	}
	return nil
}

// live returns the record for k if it is in the map.
func (e *Engine) live(k ir.Key) (*identity.Record, bool) {
	rec, err := e.ids.LookupKey(k)
	return rec, err == nil
}
