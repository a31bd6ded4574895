package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandle struct {
	calls atomic.Int32
	err   error
}

func (m *mockHandle) Unsubscribe() error {
	m.calls.Add(1)
	return m.err
}

type mockIndex struct {
	mu      sync.Mutex
	removed []*Conn
}

func (m *mockIndex) RemoveAll(c *Conn) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, c)
	return 1
}

func TestConn_PushDropsWhenFull(t *testing.T) {
	c := NewConn("test", 1)

	assert.True(t, c.Push([]byte("a")))
	assert.False(t, c.Push([]byte("b")), "second push should be dropped on a full queue")
	assert.Equal(t, []byte("a"), <-c.Outbound())
}

func TestConn_ReplyWaitsForRoom(t *testing.T) {
	c := NewConn("test", 1)
	require.NoError(t, c.Reply(context.Background(), []byte("first")))

	done := make(chan error, 1)
	go func() { done <- c.Reply(context.Background(), []byte("second")) }()

	select {
	case <-done:
		t.Fatal("Reply returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, []byte("first"), <-c.Outbound())
	require.NoError(t, <-done)
	assert.Equal(t, []byte("second"), <-c.Outbound())
}

func TestConn_ReplyRespectsContext(t *testing.T) {
	c := NewConn("test", 1)
	require.NoError(t, c.Reply(context.Background(), []byte("fill")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Reply(ctx, []byte("x")), context.DeadlineExceeded)
}

func bus(subID string) UpstreamKey  { return UpstreamKey{Source: "local", SubID: subID} }
func mqtt(subID string) UpstreamKey { return UpstreamKey{Source: "iotcore", SubID: subID} }

func TestRegistry_DeregisterRunsOnce(t *testing.T) {
	statuses, logs := &mockIndex{}, &mockIndex{}
	r := NewRegistry(nil, statuses, logs)
	c := NewConn("test", 4)
	r.Register(c)

	h := &mockHandle{}
	require.NoError(t, r.TrackUpstream(c, bus("sub-1"), h))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Deregister(c)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
	assert.Len(t, statuses.removed, 1)
	assert.Len(t, logs.removed, 1)
	assert.Equal(t, int32(1), h.calls.Load())

	select {
	case <-c.Done():
	default:
		t.Fatal("connection should be marked done")
	}
	assert.False(t, c.Push([]byte("late")))
	assert.ErrorIs(t, c.Reply(context.Background(), []byte("late")), ErrConnectionClosed)
}

func TestRegistry_ReleaseAllContinuesOnFailure(t *testing.T) {
	r := NewRegistry(nil)
	c := NewConn("test", 1)
	r.Register(c)

	failing := &mockHandle{err: errors.New("broker unreachable")}
	ok := &mockHandle{}
	require.NoError(t, r.TrackUpstream(c, bus("a"), failing))
	require.NoError(t, r.TrackUpstream(c, bus("b"), ok))

	r.Deregister(c)

	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), ok.calls.Load())
}

func TestRegistry_TrackUpstream(t *testing.T) {
	r := NewRegistry(nil)
	c := NewConn("test", 1)
	r.Register(c)

	first, second := &mockHandle{}, &mockHandle{}
	require.NoError(t, r.TrackUpstream(c, bus("sub"), first))
	assert.ErrorIs(t, r.TrackUpstream(c, bus("sub"), second), ErrDuplicateSubscription)
	assert.True(t, r.HasUpstream(c, bus("sub")))

	released, err := r.ReleaseUpstream(c, "sub")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(0), second.calls.Load(), "the rejected handle stays with the caller")

	released, err = r.ReleaseUpstream(c, "sub")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestRegistry_SubIDsArePerTransport(t *testing.T) {
	r := NewRegistry(nil)
	c := NewConn("test", 1)
	r.Register(c)

	local, remote := &mockHandle{}, &mockHandle{}
	require.NoError(t, r.TrackUpstream(c, bus("sub"), local))
	require.NoError(t, r.TrackUpstream(c, mqtt("sub"), remote), "the same subId is free on another transport")
	assert.True(t, r.HasUpstream(c, mqtt("sub")))

	released, err := r.ReleaseUpstream(c, "sub")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, int32(1), local.calls.Load())
	assert.Equal(t, int32(1), remote.calls.Load())
	assert.False(t, r.HasUpstream(c, bus("sub")))
	assert.False(t, r.HasUpstream(c, mqtt("sub")))
}

func TestRegistry_ReleaseUpstreamReportsFailures(t *testing.T) {
	r := NewRegistry(nil)
	c := NewConn("test", 1)
	r.Register(c)

	failing, ok := &mockHandle{err: errors.New("broker unreachable")}, &mockHandle{}
	require.NoError(t, r.TrackUpstream(c, mqtt("sub"), failing))
	require.NoError(t, r.TrackUpstream(c, bus("sub"), ok))

	released, err := r.ReleaseUpstream(c, "sub")
	assert.True(t, released)
	assert.ErrorContains(t, err, "broker unreachable")
	assert.Equal(t, int32(1), ok.calls.Load(), "a failing release does not skip the others")
}

func TestRegistry_TrackAfterCloseIsRejected(t *testing.T) {
	r := NewRegistry(nil)
	c := NewConn("test", 1)
	r.Register(c)
	r.Deregister(c)

	err := r.TrackUpstream(c, bus("late"), &mockHandle{})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRegistry_Authenticated(t *testing.T) {
	r := NewRegistry(nil)
	a, b := NewConn("a", 1), NewConn("b", 1)
	r.Register(a)
	r.Register(b)

	assert.Empty(t, r.Authenticated())

	r.MarkAuthenticated(b)
	assert.True(t, r.IsAuthenticated(b))
	assert.False(t, r.IsAuthenticated(a))
	assert.Equal(t, []*Conn{b}, r.Authenticated())
	assert.Equal(t, 2, r.Count())
}
