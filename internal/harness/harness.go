package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/tandem/internal/compiler"
	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/schema"
	"github.com/roach88/tandem/internal/store"
	"github.com/roach88/tandem/internal/testutil"
)

// Harness executes one scenario against a real engine backed by an
// in-memory store.
type Harness struct {
	engine  *engine.Engine
	source  *store.Source
	aliases map[string]*identity.Record
	logger  *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dsn    string
	opts   []engine.EngineOption
}

// WithLogger sets the logger for harness and engine. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDatabase runs the scenario against the store at dsn instead of a
// fresh in-memory one. Server fixtures are written on top of what the store
// already holds.
func WithDatabase(dsn string) Option {
	return func(o *options) {
		o.dsn = dsn
	}
}

// WithEngineOptions passes extra options to the engine (metrics, timeout).
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(o *options) {
		o.opts = append(o.opts, opts...)
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation unless
// WithDatabase is given, with sequential temporary ids so results are
// reproducible.
//
// Execution flow:
// 1. Compile the schema
// 2. Create a fresh in-memory store and seed the server fixtures
// 3. Execute flow steps, checking expectations and symmetry after each
// 4. Evaluate assertions and capture the final snapshot
//
// A returned error means the scenario could not be set up; step and
// assertion failures are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		dsn:    ":memory:",
	}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := compileSchema(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	st, err := store.Open(o.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	src := store.NewSource(st, reg, o.logger)
	for i, f := range scenario.Server {
		if err := writeFixture(ctx, src, f); err != nil {
			return nil, fmt.Errorf("server[%d]: %w", i, err)
		}
	}

	engOpts := append([]engine.EngineOption{
		engine.WithIDGenerator(testutil.NewSequentialIDs("tmp")),
		engine.WithLogger(o.logger),
	}, o.opts...)
	eng, err := engine.New(reg, src, engOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		engine:  eng,
		source:  src,
		aliases: make(map[string]*identity.Record),
		logger:  o.logger,
	}

	result := NewResult()
	h.executeFlow(ctx, scenario.Flow, result)

	for _, msg := range h.evaluateAssertions(scenario.Assertions, result) {
		result.AddError(msg)
	}
	result.State = eng.Snapshot()

	return result, nil
}

func compileSchema(s *Scenario) (*schema.Registry, error) {
	if s.Schema != "" {
		return compiler.CompileFile(s.Schema)
	}
	return compiler.CompileString(s.SchemaSource, s.Name+".cue")
}

// executeFlow runs every step, records it in the trace, compares the
// outcome to the step's expectation and checks symmetry afterwards.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) {
	for i, step := range flow {
		ev := TraceEvent{
			Step:   i,
			Op:     step.Op,
			Record: step.Record,
			Field:  step.Field,
			Member: step.Member,
		}

		members, err := h.execute(ctx, &step)
		if err != nil {
			ev.Error = errorCode(err)
		}
		if members != nil {
			ev.Members = ir.KeyStrings(members)
		}
		result.AddTrace(ev)

		h.checkExpect(i, &step, ev, err, result)

		for _, v := range h.engine.CheckSymmetry() {
			result.AddError(fmt.Sprintf("flow[%d] %s: symmetry violated: %s", i, step.Op, v))
		}

		h.logger.Info("flow step completed",
			"step", i,
			"op", step.Op,
			"record", step.Record,
			"error", ev.Error,
		)
	}
}

func (h *Harness) checkExpect(i int, step *Step, ev TraceEvent, err error, result *Result) {
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	switch {
	case want == "" && err != nil:
		result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, err))
		return
	case want != "" && err == nil:
		result.AddError(fmt.Sprintf("flow[%d] %s: expected error %s, got success", i, step.Op, want))
		return
	case want != "" && ev.Error != want:
		result.AddError(fmt.Sprintf("flow[%d] %s: expected error %s, got %v", i, step.Op, want, err))
		return
	}

	if step.Expect == nil || step.Expect.Members == nil || err != nil {
		return
	}
	expected, rerr := h.resolveKeys(step.Expect.Members)
	if rerr != nil {
		result.AddError(fmt.Sprintf("flow[%d] %s: %v", i, step.Op, rerr))
		return
	}
	if !slices.Equal(expected, ev.Members) {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected members %v, got %v", i, step.Op, expected, ev.Members))
	}
}

// execute runs one step. It returns the member keys for fetch steps.
func (h *Harness) execute(ctx context.Context, step *Step) ([]ir.Key, error) {
	eng := h.engine

	switch step.Op {
	case OpPush:
		key, err := ir.ParseKey(step.Record)
		if err != nil {
			return nil, err
		}
		attrs, err := convertAttributes(step.Attributes)
		if err != nil {
			return nil, err
		}
		_, err = eng.Push(key.Type, ir.Payload{ID: key.ID, Attributes: attrs, Relationships: step.Relationships})
		return nil, err

	case OpServe:
		return nil, writeFixture(ctx, h.source, Fixture{
			Record:        step.Record,
			Attributes:    step.Attributes,
			Relationships: step.Relationships,
		})

	case OpCreate:
		attrs, err := convertAttributes(step.Attributes)
		if err != nil {
			return nil, err
		}
		rec, err := eng.CreateRecord(step.Type, attrs)
		if err != nil {
			return nil, err
		}
		if step.As != "" {
			h.aliases[step.As] = rec
		}
		return nil, nil
	}

	rec, err := h.resolve(step.Record)
	if err != nil {
		return nil, err
	}

	switch step.Op {
	case OpAdd, OpRemove:
		member, err := h.resolve(step.Member)
		if err != nil {
			return nil, err
		}
		view, err := eng.Relationship(rec, step.Field)
		if err != nil {
			return nil, err
		}
		if step.Op == OpAdd {
			return nil, view.Add(member)
		}
		return nil, view.Remove(member)

	case OpDelete:
		return nil, eng.DeleteRecord(rec)

	case OpRollback:
		return nil, eng.RollbackAttributes(rec)

	case OpUnload:
		return nil, eng.Unload(rec)

	case OpSet:
		v, err := convertToValue(step.Value)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetAttribute(rec, step.Attribute, v)

	case OpPreload:
		return nil, eng.Preload(ctx, rec, step.Fields...)

	case OpFetch:
		view, err := eng.Relationship(rec, step.Field)
		if err != nil {
			return nil, err
		}
		var recs []*identity.Record
		switch v := view.(type) {
		case *engine.AsyncCollection:
			recs, err = v.Load(ctx)
		case *engine.SyncCollection:
			recs, err = v.Members()
		}
		if err != nil {
			return nil, err
		}
		keys := make([]ir.Key, len(recs))
		for i, r := range recs {
			keys[i] = r.Key()
		}
		return keys, nil
	}

	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// resolve turns "@alias" or "type:id" into a record handle. An alias keeps
// pointing at its record after the record is destroyed, so later steps see
// the engine's UNLOADED error.
func (h *Harness) resolve(ref string) (*identity.Record, error) {
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		rec, ok := h.aliases[name]
		if !ok {
			return nil, fmt.Errorf("unknown alias %q", name)
		}
		return rec, nil
	}
	key, err := ir.ParseKey(ref)
	if err != nil {
		return nil, err
	}
	return h.engine.LookupKey(key)
}

// resolveKeys maps references to key strings without requiring the
// records to be present.
func (h *Harness) resolveKeys(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if name, ok := strings.CutPrefix(ref, "@"); ok {
			rec, ok := h.aliases[name]
			if !ok {
				return nil, fmt.Errorf("unknown alias %q", name)
			}
			out = append(out, rec.Key().String())
			continue
		}
		key, err := ir.ParseKey(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, key.String())
	}
	return out, nil
}

func writeFixture(ctx context.Context, src *store.Source, f Fixture) error {
	typ, p, err := f.Payload()
	if err != nil {
		return err
	}
	return src.Write(ctx, typ, p)
}

// errorCode returns the engine error code of err, or "ERROR" for errors
// raised outside the engine (bad references, store failures).
func errorCode(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return "ERROR"
}

// convertAttributes converts YAML-parsed attributes to an ir.Object.
func convertAttributes(attrs map[string]any) (ir.Object, error) {
	if attrs == nil {
		return nil, nil
	}
	result := make(ir.Object, len(attrs))
	for key, val := range attrs {
		v, err := convertToValue(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		result[key] = v
	}
	return result, nil
}

// convertToValue converts a YAML-parsed value to an ir.Value.
// YAML null becomes ir.Null; non-integral floats are rejected.
func convertToValue(val any) (ir.Value, error) {
	switch v := val.(type) {
	case nil:
		return ir.Null{}, nil
	case string:
		return ir.String(v), nil
	case int:
		return ir.Int(int64(v)), nil
	case int64:
		return ir.Int(v), nil
	case uint64:
		if v > 1<<63-1 {
			return nil, fmt.Errorf("integer %d overflows int64", v)
		}
		return ir.Int(int64(v)), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.Int(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are not supported: %v", v)
	case bool:
		return ir.Bool(v), nil
	case []any:
		arr := make(ir.Array, len(v))
		for i, elem := range v {
			e, err := convertToValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	case map[string]any:
		return convertAttributes(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
