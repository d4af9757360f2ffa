package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/ir"
)

func TestStubLoaderResults(t *testing.T) {
	user := ir.NewKey("user", "1")
	l := NewStubLoader().Set(user, "topics", ir.Payload{ID: "2"})

	got, err := l.FetchRelated(context.Background(), user, "topics")
	require.NoError(t, err)
	assert.Equal(t, []ir.Payload{{ID: "2"}}, got)
	assert.Equal(t, 1, l.Calls(user, "topics"))
	assert.Equal(t, "user:1#topics", <-l.Started())

	got, err = l.FetchRelated(context.Background(), user, "accounts")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStubLoaderFail(t *testing.T) {
	user := ir.NewKey("user", "1")
	boom := errors.New("boom")
	l := NewStubLoader().Fail(user, "topics", boom)

	_, err := l.FetchRelated(context.Background(), user, "topics")
	assert.ErrorIs(t, err, boom)

	l.Set(user, "topics")
	_, err = l.FetchRelated(context.Background(), user, "topics")
	assert.NoError(t, err)
}

func TestStubLoaderHold(t *testing.T) {
	user := ir.NewKey("user", "1")
	l := NewStubLoader()
	release := l.Hold()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.FetchRelated(context.Background(), user, "topics")
	}()

	<-l.Started()
	select {
	case <-done:
		t.Fatal("call returned while held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()
	<-done
}

func TestStubLoaderHoldCancelled(t *testing.T) {
	l := NewStubLoader()
	defer l.Hold()()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.FetchRelated(ctx, ir.NewKey("user", "1"), "topics")
	assert.ErrorIs(t, err, context.Canceled)
}
