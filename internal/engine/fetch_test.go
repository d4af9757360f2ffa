package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/testutil"
)

func mustAsync(t *testing.T, e *Engine, rec *identity.Record, field string) *AsyncCollection {
	t.Helper()
	v, err := e.Async(rec, field)
	require.NoError(t, err)
	return v
}

func recordKeys(recs []*identity.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key().String()
	}
	return out
}

func TestFetchUsesLoader(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users",
		ir.Payload{ID: "1", Attributes: ir.Object{"name": ir.String("Stanley")}})
	e := newTestEngine(t, stub)
	topic := mustPush(t, e, "topic", "2", nil)
	users := mustAsync(t, e, topic, "users")

	assert.False(t, users.IsLoaded())
	got, err := users.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, recordKeys(got))
	assert.True(t, users.IsLoaded())
	assert.False(t, users.IsPending())

	user := got[0]
	assert.True(t, user.IsMaterialized(), "returned payloads are ingested")
	assert.Equal(t, ir.String("Stanley"), user.Attributes()["name"])
	assert.Equal(t, []string{"topic:2"}, members(t, e, user, "topics"))
	assert.False(t, mustAsync(t, e, user, "topics").IsLoaded(),
		"membership learned through the inverse is not a materialization")

	_, err = users.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stub.Calls(topicKey, "users"), "loaded fields are not fetched again")
	assertSymmetric(t, e)
}

func TestPushedAsyncFieldIsLoaded(t *testing.T) {
	stub := testutil.NewStubLoader()
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", map[string][]string{"topics": {"2"}})

	got, err := mustAsync(t, e, user, "topics").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"topic:2"}, recordKeys(got))
	assert.Equal(t, 0, stub.Calls(user.Key(), "topics"))
}

func TestConcurrentFetchesShareOneLoad(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users", ir.Payload{ID: "1"})
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, stub, WithMetrics(metrics.New(reg)))
	topic := mustPush(t, e, "topic", "2", nil)
	users := mustAsync(t, e, topic, "users")

	release := stub.Hold()
	first := users.Fetch(context.Background())
	<-stub.Started()
	assert.True(t, users.IsPending())

	second := users.Fetch(context.Background())
	release()

	a, err := first.Wait(context.Background())
	require.NoError(t, err)
	b, err := second.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"user:1"}, recordKeys(a))
	assert.Equal(t, recordKeys(a), recordKeys(b))
	assert.Equal(t, 1, stub.Calls(topicKey, "users"))

	expected := `
# HELP tandem_fetches_total Async relationship materializations, by result
# TYPE tandem_fetches_total counter
tandem_fetches_total{result="ok"} 1
tandem_fetches_total{result="shared"} 1
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "tandem_fetches_total"))
}

func TestFetchFailureLeavesFieldUnloaded(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	boom := errors.New("connection reset")
	stub := testutil.NewStubLoader().Fail(topicKey, "users", boom)
	e := newTestEngine(t, stub)
	topic := mustPush(t, e, "topic", "2", nil)
	users := mustAsync(t, e, topic, "users")

	_, err := users.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.ErrorIs(t, err, boom)
	assert.False(t, users.IsLoaded())
	assert.False(t, users.IsPending())

	stub.Set(topicKey, "users", ir.Payload{ID: "1"})
	got, err := users.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, recordKeys(got))
	assert.Equal(t, 2, stub.Calls(topicKey, "users"), "a failed load is retried")
}

func TestFetchTimeout(t *testing.T) {
	stub := testutil.NewStubLoader()
	e := newTestEngine(t, stub, WithFetchTimeout(10*time.Millisecond))
	topic := mustPush(t, e, "topic", "2", nil)
	defer stub.Hold()()

	_, err := mustAsync(t, e, topic, "users").Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleFetchLosesToNewerPush(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users", ir.Payload{ID: "1"})
	e := newTestEngine(t, stub)
	topic := mustPush(t, e, "topic", "2", nil)
	users := mustAsync(t, e, topic, "users")

	release := stub.Hold()
	fut := users.Fetch(context.Background())
	<-stub.Started()
	mustPush(t, e, "topic", "2", map[string][]string{"users": {"3"}})
	release()

	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user:3"}, recordKeys(got))
	assert.True(t, users.IsLoaded())
	assert.Empty(t, members(t, e, mustLookup(t, e, "user", "1"), "topics"))
	assertSymmetric(t, e)
}

func TestFetchKeepsNewerInverseChanges(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users", ir.Payload{ID: "1"})
	e := newTestEngine(t, stub)
	mustPush(t, e, "user", "1", map[string][]string{"topics": {"2"}})
	topic := mustLookup(t, e, "topic", "2")
	users := mustAsync(t, e, topic, "users")

	release := stub.Hold()
	fut := users.Fetch(context.Background())
	<-stub.Started()
	mustPush(t, e, "user", "1", map[string][]string{"topics": {}})
	mustPush(t, e, "user", "4", map[string][]string{"topics": {"2"}})
	release()

	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user:4"}, recordKeys(got),
		"user:1 left after the fetch started and user:4 joined")
	assertSymmetric(t, e)
}

func TestFetchIngestsMemberRelationships(t *testing.T) {
	userKey := ir.NewKey("user", "1")
	stub := testutil.NewStubLoader().Set(userKey, "topics",
		ir.Payload{ID: "2", Relationships: map[string][]string{"users": {"1", "5"}}})
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", nil)

	got, err := mustAsync(t, e, user, "topics").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"topic:2"}, recordKeys(got))

	topic := mustLookup(t, e, "topic", "2")
	assert.Equal(t, []string{"user:1", "user:5"}, members(t, e, topic, "users"))
	assert.True(t, mustAsync(t, e, topic, "users").IsLoaded())
	assert.Equal(t, []string{"topic:2"}, members(t, e, mustLookup(t, e, "user", "5"), "topics"))
	assertSymmetric(t, e)
}

func TestFetchRejectsInvalidPayloadAtomically(t *testing.T) {
	userKey := ir.NewKey("user", "1")
	stub := testutil.NewStubLoader().Set(userKey, "topics",
		ir.Payload{ID: "3"},
		ir.Payload{ID: "2", Relationships: map[string][]string{"tags": {"x"}}},
	)
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", nil)
	topics := mustAsync(t, e, user, "topics")

	_, err := topics.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.False(t, topics.IsLoaded())

	_, err = e.Lookup("topic", "3")
	assert.True(t, IsNotFound(err), "nothing from a rejected result is ingested")
}

func TestFetchOnUnloadedRecord(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users", ir.Payload{ID: "1"})
	e := newTestEngine(t, stub)
	topic := mustPush(t, e, "topic", "2", nil)
	users := mustAsync(t, e, topic, "users")

	release := stub.Hold()
	fut := users.Fetch(context.Background())
	<-stub.Started()
	require.NoError(t, e.Unload(topic))
	release()

	_, err := fut.Wait(context.Background())
	assert.True(t, IsNotFound(err))

	_, err = users.Load(context.Background())
	assert.True(t, IsNotFound(err))
}

func TestFetchDroppingDeletedMemberSurvivesRollback(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users")
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", map[string][]string{"topics": {"2"}})
	topic := mustLookup(t, e, "topic", "2")
	require.NoError(t, e.DeleteRecord(user))

	got, err := mustAsync(t, e, topic, "users").Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, user.DeletedLinks())

	require.NoError(t, e.RollbackAttributes(user))
	assert.Empty(t, members(t, e, topic, "users"))
	assert.Empty(t, members(t, e, user, "topics"))
	assertSymmetric(t, e)
}

func TestStaleFetchKeepsLinkPushedForDeletedMember(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users")
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", nil)
	topic := mustPush(t, e, "topic", "2", nil)
	require.NoError(t, e.DeleteRecord(user))

	release := stub.Hold()
	fut := mustAsync(t, e, topic, "users").Fetch(context.Background())
	<-stub.Started()
	mustPush(t, e, "topic", "2", map[string][]string{"users": {"1"}})
	release()

	_, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.RollbackAttributes(user))
	assert.Equal(t, []string{"user:1"}, members(t, e, topic, "users"),
		"the push arrived after the fetch started and wins")
	assertSymmetric(t, e)
}

func TestLateFlightOnLoadedFieldDoesNotRefetch(t *testing.T) {
	topicKey := ir.NewKey("topic", "2")
	stub := testutil.NewStubLoader().Set(topicKey, "users", ir.Payload{ID: "1"})
	e := newTestEngine(t, stub)
	topic := mustPush(t, e, "topic", "2", nil)
	users := mustAsync(t, e, topic, "users")

	release := stub.Hold()
	fut := users.Fetch(context.Background())
	<-stub.Started()
	assert.True(t, users.IsPending())
	release()
	_, err := fut.Wait(context.Background())
	require.NoError(t, err)

	// A caller that saw the field unloaded reaches the flight group only
	// after the first flight resolved and was forgotten.
	require.NoError(t, e.materialize(context.Background(), topic, users.Field()))

	assert.Equal(t, 1, stub.Calls(topicKey, "users"))
	assert.True(t, users.IsLoaded())
	assert.False(t, users.IsPending())
	assert.Equal(t, []string{"user:1"}, members(t, e, topic, "users"))
}

func TestWaitHonorsContext(t *testing.T) {
	stub := testutil.NewStubLoader()
	e := newTestEngine(t, stub)
	topic := mustPush(t, e, "topic", "2", nil)

	release := stub.Hold()
	fut := mustAsync(t, e, topic, "users").Fetch(context.Background())
	<-stub.Started()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	release()
	<-fut.Done()
	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPreload(t *testing.T) {
	userKey := ir.NewKey("user", "1")
	stub := testutil.NewStubLoader().Set(userKey, "topics", ir.Payload{ID: "2"}, ir.Payload{ID: "3"})
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", nil)

	require.NoError(t, e.Preload(context.Background(), user))

	assert.True(t, mustAsync(t, e, user, "topics").IsLoaded())
	assert.Equal(t, []string{"topic:2", "topic:3"}, members(t, e, user, "topics"))
	assert.Equal(t, 1, stub.Calls(userKey, "topics"))
	assert.Equal(t, 0, stub.Calls(userKey, "accounts"), "sync fields are never fetched")
}

func TestPreloadReportsFailure(t *testing.T) {
	userKey := ir.NewKey("user", "1")
	stub := testutil.NewStubLoader().Fail(userKey, "topics", errors.New("503"))
	e := newTestEngine(t, stub)
	user := mustPush(t, e, "user", "1", nil)

	err := e.Preload(context.Background(), user, "topics", "accounts")
	assert.True(t, IsLoadError(err))

	err = e.Preload(context.Background(), user, "friends")
	assert.True(t, IsUnknownField(err))
}
