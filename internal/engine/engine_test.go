package engine

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/schema"
	"github.com/roach88/tandem/internal/testutil"
)

// newTestEngine creates an engine over the social schema with sequential
// temporary ids and a silent logger. loader may be nil.
func newTestEngine(t *testing.T, loader Loader, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{
		WithIDGenerator(testutil.NewSequentialIDs("tmp")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e, err := New(testutil.SocialRegistry(), loader, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func mustPush(t *testing.T, e *Engine, typ, id string, rels map[string][]string) *identity.Record {
	t.Helper()
	rec, err := e.Push(typ, ir.Payload{ID: id, Relationships: rels})
	require.NoError(t, err)
	return rec
}

func mustLookup(t *testing.T, e *Engine, typ, id string) *identity.Record {
	t.Helper()
	rec, err := e.Lookup(typ, id)
	require.NoError(t, err)
	return rec
}

func mustView(t *testing.T, e *Engine, rec *identity.Record, field string) View {
	t.Helper()
	v, err := e.Relationship(rec, field)
	require.NoError(t, err)
	return v
}

// members returns the effective member keys of rec.field as strings.
func members(t *testing.T, e *Engine, rec *identity.Record, field string) []string {
	t.Helper()
	return ir.KeyStrings(mustView(t, e, rec, field).Keys())
}

func assertSymmetric(t *testing.T, e *Engine) {
	t.Helper()
	assert.Empty(t, e.CheckSymmetry())
}

func TestNewFreezesRegistry(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(&schema.Model{Name: "user", Fields: []*schema.Field{{Name: "accounts", Target: "account"}}})
	reg.MustRegister(&schema.Model{Name: "account", Fields: []*schema.Field{{Name: "users", Target: "user"}}})

	_, err := New(reg, nil)
	require.NoError(t, err)
	assert.True(t, reg.Frozen())
}

func TestNewRejectsBrokenRegistry(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(&schema.Model{Name: "user", Fields: []*schema.Field{{Name: "accounts", Target: "account"}}})

	_, err := New(reg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnknownType)

	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestPushMirrorsOntoInverse(t *testing.T) {
	e := newTestEngine(t, nil)
	account := mustPush(t, e, "account", "2", map[string][]string{"users": {"1", "2"}})

	assert.True(t, account.IsMaterialized())
	assert.Equal(t, []string{"user:1", "user:2"}, members(t, e, account, "users"))

	user := mustLookup(t, e, "user", "1")
	assert.False(t, user.IsMaterialized(), "referenced members are empty until pushed")
	assert.Equal(t, []string{"account:2"}, members(t, e, user, "accounts"))
	assertSymmetric(t, e)
}

func TestPushReplacesCanonicalMembers(t *testing.T) {
	e := newTestEngine(t, nil)
	account := mustPush(t, e, "account", "2", map[string][]string{"users": {"1", "2"}})
	mustPush(t, e, "account", "2", map[string][]string{"users": {"2", "3"}})

	assert.Equal(t, []string{"user:2", "user:3"}, members(t, e, account, "users"))
	assert.Empty(t, members(t, e, mustLookup(t, e, "user", "1"), "accounts"))
	assert.Equal(t, []string{"account:2"}, members(t, e, mustLookup(t, e, "user", "3"), "accounts"))
	assertSymmetric(t, e)
}

func TestPushWithoutFieldLeavesItAlone(t *testing.T) {
	e := newTestEngine(t, nil)
	account := mustPush(t, e, "account", "2", map[string][]string{"users": {"1"}})

	_, err := e.Push("account", ir.Payload{ID: "2", Attributes: ir.Object{"name": ir.String("ops")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"user:1"}, members(t, e, account, "users"))
	assert.Equal(t, ir.Object{"name": ir.String("ops")}, account.Attributes())
}

func TestPushValidation(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		payload ir.Payload
		code    ErrorCode
	}{
		{
			name:    "unknown type",
			typ:     "ghost",
			payload: ir.Payload{ID: "1"},
			code:    CodeUnknownType,
		},
		{
			name:    "missing id",
			typ:     "user",
			payload: ir.Payload{},
			code:    CodeInvalidPayload,
		},
		{
			name:    "unknown relationship",
			typ:     "user",
			payload: ir.Payload{ID: "1", Relationships: map[string][]string{"accounts": {"2"}, "friends": {"3"}}},
			code:    CodeUnknownField,
		},
		{
			name:    "unknown attribute",
			typ:     "user",
			payload: ir.Payload{ID: "1", Attributes: ir.Object{"email": ir.String("a@b")}},
			code:    CodeUnknownField,
		},
		{
			name:    "attribute type",
			typ:     "user",
			payload: ir.Payload{ID: "1", Attributes: ir.Object{"age": ir.String("forty")}},
			code:    CodeTypeMismatch,
		},
		{
			name:    "cardinality one",
			typ:     "comment",
			payload: ir.Payload{ID: "1", Relationships: map[string][]string{"post": {"1", "2"}}},
			code:    CodeCardinality,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			_, err := e.Push(tt.typ, tt.payload)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Empty(t, e.Records(), "a rejected push creates nothing")
		})
	}
}

func TestPushNullAttributeAccepted(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Push("user", ir.Payload{ID: "1", Attributes: ir.Object{"name": ir.Null{}}})
	assert.NoError(t, err)
}

func TestPushDuplicateMembersCollapse(t *testing.T) {
	e := newTestEngine(t, nil)
	account := mustPush(t, e, "account", "2", map[string][]string{"users": {"1", "1", "2"}})
	assert.Equal(t, []string{"user:1", "user:2"}, members(t, e, account, "users"))

	comment := mustPush(t, e, "comment", "1", map[string][]string{"post": {"9", "9"}})
	assert.Equal(t, []string{"post:9"}, members(t, e, comment, "post"))
}

func TestCreateRecord(t *testing.T) {
	e := newTestEngine(t, nil)

	user, err := e.CreateRecord("user", ir.Object{"name": ir.String("Ada")})
	require.NoError(t, err)
	assert.Equal(t, "tmp-1", user.ID())
	assert.True(t, user.IsNew())
	assert.True(t, user.IsMaterialized())
	assert.True(t, user.IsDirty(), "attributes of a created record are local changes")
	assert.Equal(t, []string{"accounts", "profile", "topics"}, user.FieldNames())

	topics, err := e.Async(user, "topics")
	require.NoError(t, err)
	assert.True(t, topics.IsLoaded(), "a created record has nothing to fetch")
}

func TestCreateRecordValidation(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.CreateRecord("ghost", nil)
	assert.True(t, IsUnknownField(err))

	_, err = e.CreateRecord("user", ir.Object{"age": ir.Bool(true)})
	assert.True(t, IsTypeMismatch(err))
	assert.Empty(t, e.Records())
}

func TestSetAttributeAndRollback(t *testing.T) {
	e := newTestEngine(t, nil)
	user, err := e.Push("user", ir.Payload{ID: "1", Attributes: ir.Object{"name": ir.String("Stanley")}})
	require.NoError(t, err)

	require.NoError(t, e.SetAttribute(user, "name", ir.String("Ada")))
	assert.Equal(t, ir.String("Ada"), user.Attributes()["name"])

	err = e.SetAttribute(user, "name", ir.Int(1))
	assert.True(t, IsTypeMismatch(err))

	require.NoError(t, e.RollbackAttributes(user))
	assert.Equal(t, ir.String("Stanley"), user.Attributes()["name"])
	assert.False(t, user.IsDirty())
}

func TestLookupNotFound(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Lookup("user", "404")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "user:404")
}

func TestRelationshipUnknownField(t *testing.T) {
	e := newTestEngine(t, nil)
	user := mustPush(t, e, "user", "1", nil)

	_, err := e.Relationship(user, "friends")
	assert.True(t, IsUnknownField(err))

	_, err = e.Sync(user, "topics")
	assert.True(t, IsTypeMismatch(err))
	_, err = e.Async(user, "accounts")
	assert.True(t, IsTypeMismatch(err))
}

func TestUnload(t *testing.T) {
	e := newTestEngine(t, nil)
	account := mustPush(t, e, "account", "2", map[string][]string{"users": {"1"}})
	user := mustLookup(t, e, "user", "1")
	accounts := mustView(t, e, user, "accounts")

	require.NoError(t, e.Unload(account))

	assert.Empty(t, accounts.Keys())
	_, err := e.Relationship(account, "users")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, CodeUnloaded, CodeOf(err))
	assert.True(t, IsNotFound(e.Unload(account)))

	// A later push for the same key creates a fresh record.
	again := mustPush(t, e, "account", "2", nil)
	assert.NotSame(t, account, again)
	assertSymmetric(t, e)
}

func TestOneWayFieldIsNotMirrored(t *testing.T) {
	e := newTestEngine(t, nil)
	post := mustPush(t, e, "post", "1", map[string][]string{"author": {"7"}})
	user := mustLookup(t, e, "user", "7")

	assert.Equal(t, []string{"user:7"}, members(t, e, post, "author"))
	assert.Empty(t, user.FieldNames())

	require.NoError(t, mustView(t, e, post, "author").Remove(user))
	assert.Empty(t, members(t, e, post, "author"))
	assertSymmetric(t, e)
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, nil, WithMetrics(metrics.New(reg)))

	account := mustPush(t, e, "account", "2", map[string][]string{"users": {"1"}})
	user := mustLookup(t, e, "user", "1")
	require.NoError(t, mustView(t, e, user, "accounts").Remove(account))
	require.NoError(t, e.DeleteRecord(account))
	require.NoError(t, e.RollbackAttributes(account))

	expected := `
# HELP tandem_pushes_total Canonical payloads ingested, by model type
# TYPE tandem_pushes_total counter
tandem_pushes_total{type="account"} 1
# HELP tandem_deletions_total Records marked deleted
# TYPE tandem_deletions_total counter
tandem_deletions_total 1
# HELP tandem_rollbacks_total Record rollbacks, by kind
# TYPE tandem_rollbacks_total counter
tandem_rollbacks_total{kind="undelete"} 1
`
	err := promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"tandem_pushes_total", "tandem_deletions_total", "tandem_rollbacks_total")
	assert.NoError(t, err)
}
