package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/relstate"
	"github.com/roach88/tandem/internal/schema"
)

// Future is the pending result of an async relationship access.
type Future struct {
	done    chan struct{}
	members []*identity.Record
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(members []*identity.Record, err error) *Future {
	f := newFuture()
	f.resolve(members, err)
	return f
}

func (f *Future) resolve(members []*identity.Record, err error) {
	f.members = members
	f.err = err
	close(f.done)
}

// Done is closed once the future has resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. Giving up on the
// wait does not cancel a shared fetch.
func (f *Future) Wait(ctx context.Context) ([]*identity.Record, error) {
	select {
	case <-f.done:
		return f.members, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AsyncCollection is the view of an async field. The first access loads
// membership through the engine's loader; concurrent accesses while that
// load is outstanding share it, and later accesses read the loaded state.
type AsyncCollection struct {
	collection
}

// IsLoaded reports whether the field has been materialized.
func (c *AsyncCollection) IsLoaded() bool {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	st, ok := c.rec.PeekState(c.field.Name)
	return ok && st.Loaded()
}

// IsPending reports whether a fetch for the field is in flight.
func (c *AsyncCollection) IsPending() bool {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	st, ok := c.rec.PeekState(c.field.Name)
	return ok && st.Pending()
}

// Load materializes the field if needed and returns its effective members.
func (c *AsyncCollection) Load(ctx context.Context) ([]*identity.Record, error) {
	return c.Fetch(ctx).Wait(ctx)
}

// Fetch returns a future for the field's effective members.
//
// If the field is loaded the future is already resolved. Otherwise the
// loader is called once per outstanding load: ctx of the caller that starts
// it bounds the loader call for every waiter. A load that finds the field
// already materialized by an earlier flight does not call the loader. On
// failure the field stays unloaded and a later Fetch retries.
func (c *AsyncCollection) Fetch(ctx context.Context) *Future {
	e := c.e
	e.mu.Lock()

	if err := e.checkLive(c.rec); err != nil {
		e.mu.Unlock()
		return resolvedFuture(nil, err)
	}
	st := c.rec.State(c.field.Name)
	if !st.Loaded() && e.loader == nil {
		// Local-only mode: what is known canonically is all there is.
		st.MergeCanonical(st.Canonical(), relstate.OriginFetch, e.clock.Next())
	}
	if st.Loaded() {
		members, err := e.resolveAsync(c.rec, c.field)
		e.mu.Unlock()
		return resolvedFuture(members, err)
	}

	e.mu.Unlock()

	led := false
	ch := e.flights.DoChan(c.rec.Key().String()+"#"+c.field.Name, func() (any, error) {
		led = true
		return nil, e.materialize(ctx, c.rec, c.field)
	})

	fut := newFuture()
	go func() {
		res := <-ch
		if res.Shared && !led {
			e.metrics.Fetch(metrics.FetchShared, 0)
		}
		if res.Err != nil {
			fut.resolve(nil, res.Err)
			return
		}
		e.mu.Lock()
		members, err := e.resolveAsync(c.rec, c.field)
		e.mu.Unlock()
		fut.resolve(members, err)
	}()
	return fut
}

// materialize calls the loader outside the engine lock and merges the
// result, skipping anything made stale by canonical updates after the load
// started. It returns at once if the field is already loaded.
func (e *Engine) materialize(ctx context.Context, rec *identity.Record, f *schema.Field) error {
	e.mu.Lock()
	if err := e.checkLive(rec); err != nil {
		e.mu.Unlock()
		return err
	}
	st := rec.State(f.Name)
	if st.Loaded() {
		e.mu.Unlock()
		return nil
	}
	since := e.clock.Current()
	st.SetPending(true)
	e.mu.Unlock()

	if e.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	payloads, err := e.loader.FetchRelated(ctx, rec.Key(), f.Name)
	elapsed := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()

	st.SetPending(false)
	if err == nil {
		if !e.ids.Contains(rec) {
			return unloadedError(rec.Key())
		}
		err = e.ingestFetched(f, payloads)
	}
	if err != nil {
		e.metrics.Fetch(metrics.FetchError, elapsed)
		e.logger.Error("fetch failed",
			"record", rec.Key().String(),
			"field", f.Name,
			"error", err,
		)
		return &Error{
			Code:    CodeLoadError,
			Message: "failed to load related records",
			Key:     rec.Key(),
			Field:   f.Name,
			Err:     err,
		}
	}
	keys := make([]ir.Key, 0, len(payloads))
	for _, p := range payloads {
		keys = append(keys, ir.NewKey(f.Target, p.ID))
	}

	seq := e.clock.Next()
	inv := e.registry.InverseOf(f)
	if inv != nil && !rec.IsDeleted() {
		e.forgetDroppedLinks(rec, inv, keys, since, seq)
		keys = e.deferDeletedMembers(rec, inv, keys, seq)
	}
	d, overridden := rec.State(f.Name).ApplyFetch(keys, since, seq)
	e.applyDelta(rec, f, inv, d, seq)

	e.metrics.Fetch(metrics.FetchOK, elapsed)
	e.metrics.StaleKeys(len(overridden))
	if len(overridden) > 0 {
		e.logger.Warn("fetch result overridden by newer canonical data",
			"record", rec.Key().String(),
			"field", f.Name,
			"keys", ir.KeyStrings(overridden),
		)
	}
	e.logger.Info("fetch resolved",
		"record", rec.Key().String(),
		"field", f.Name,
		"members", len(keys),
		"duration", elapsed,
	)
	return nil
}

// ingestFetched validates every payload first, then pushes them all, so a
// bad payload leaves nothing half-applied.
func (e *Engine) ingestFetched(f *schema.Field, payloads []ir.Payload) error {
	if f.Cardinality == schema.One && len(payloads) > 1 {
		return newError(CodeCardinality, ir.Key{}, f.Name, "loader returned %d records for a cardinality-one field", len(payloads))
	}
	for _, p := range payloads {
		if _, err := e.preparePush(f.Target, p); err != nil {
			return err
		}
	}
	for _, p := range payloads {
		if _, err := e.push(f.Target, p); err != nil {
			return err
		}
	}
	return nil
}

// resolveAsync returns the records of rec's effective members. Caller holds
// e.mu.
func (e *Engine) resolveAsync(rec *identity.Record, f *schema.Field) ([]*identity.Record, error) {
	if err := e.checkLive(rec); err != nil {
		return nil, err
	}
	st, ok := rec.PeekState(f.Name)
	if !ok {
		return []*identity.Record{}, nil
	}
	keys := st.Effective()
	out := make([]*identity.Record, 0, len(keys))
	for _, k := range keys {
		member, ok := e.live(k)
		if !ok {
			return nil, &Error{Code: CodeNotFound, Message: "member " + k.String() + " is not in the identity map", Key: rec.Key(), Field: f.Name}
		}
		out = append(out, member)
	}
	return out, nil
}

// preload loads views concurrently and returns the first error.
func preload(ctx context.Context, views []*AsyncCollection) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range views {
		g.Go(func() error {
			_, err := v.Load(gctx)
			return err
		})
	}
	return g.Wait()
}
