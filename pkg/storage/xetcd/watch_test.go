package xetcd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func nextWatch(t *testing.T, f *fakeEtcd) watchCall {
	t.Helper()
	select {
	case call := <-f.watches:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("watch not started")
		return watchCall{}
	}
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func waitClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "PUT", EventPut.String())
	assert.Equal(t, "DELETE", EventDelete.String())
	assert.Equal(t, "UNKNOWN(-1)", EventUnknown.String())
}

func TestWatch_Events(t *testing.T) {
	f := newFakeEtcd()
	c := newTestClient(f)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Watch(ctx, "/svc/", WithPrefix(), WithRevision(7), WithBufferSize(4))
	require.NoError(t, err)

	call := nextWatch(t, f)
	assert.Equal(t, "/svc/", call.key)
	assert.Equal(t, int64(7), call.rev)

	call.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{
		putEvent("/svc/a", "1", 7),
		{Type: 0, Kv: nil},
		deleteEvent("/svc/a", 8),
	}}

	ev := recv(t, events)
	assert.Equal(t, EventPut, ev.Type)
	assert.Equal(t, "/svc/a", ev.Key)
	assert.Equal(t, []byte("1"), ev.Value)

	ev = recv(t, events)
	assert.Equal(t, EventDelete, ev.Type)
	assert.Nil(t, ev.Value)
	assert.Equal(t, int64(8), ev.Revision)

	cancel()
	waitClosed(t, events)
}

func TestWatch_ErrorClosesChannel(t *testing.T) {
	f := newFakeEtcd()
	c := newTestClient(f)
	defer func() { _ = c.Close() }()

	events, err := c.Watch(context.Background(), "/svc/", WithPrefix())
	require.NoError(t, err)
	call := nextWatch(t, f)

	call.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{putEvent("/svc/a", "1", 3)}}
	call.ch <- clientv3.WatchResponse{CompactRevision: 10}

	assert.Equal(t, int64(3), recv(t, events).Revision)
	ev := recv(t, events)
	require.Error(t, ev.Error)
	assert.Equal(t, int64(3), ev.Revision)
	assert.Equal(t, int64(10), ev.CompactRevision)
	waitClosed(t, events)
}

func TestWatch_CloseStopsGoroutine(t *testing.T) {
	f := newFakeEtcd()
	c := newTestClient(f)

	events, err := c.Watch(context.Background(), "/svc/")
	require.NoError(t, err)
	nextWatch(t, f)

	require.NoError(t, c.Close())
	waitClosed(t, events)
}

func TestWatchWithRetry_ResumesFromLastRevision(t *testing.T) {
	f := newFakeEtcd()
	c := newTestClient(f)
	defer func() { _ = c.Close() }()

	var retries atomic.Int32
	cfg := RetryConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		OnRetry:        func(int, error) { retries.Add(1) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.WatchWithRetry(ctx, "/svc/", cfg, WithPrefix())
	require.NoError(t, err)

	first := nextWatch(t, f)
	assert.Zero(t, first.rev)
	first.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{putEvent("/svc/a", "1", 41)}}
	assert.Equal(t, int64(41), recv(t, events).Revision)
	close(first.ch)

	second := nextWatch(t, f)
	assert.Equal(t, int64(42), second.rev)
	second.ch <- clientv3.WatchResponse{CompactRevision: 50}

	third := nextWatch(t, f)
	assert.Equal(t, int64(50), third.rev, "compaction moves the start point forward")
	third.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{putEvent("/svc/b", "2", 55)}}
	ev := recv(t, events)
	assert.NoError(t, ev.Error)
	assert.Equal(t, "/svc/b", ev.Key)

	assert.Equal(t, int32(1), retries.Load(), "only the failed session counts as a retry")

	cancel()
	waitClosed(t, events)
}

func TestWatchWithRetry_MaxRetries(t *testing.T) {
	f := newFakeEtcd()
	c := newTestClient(f)
	defer func() { _ = c.Close() }()

	cfg := RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxRetries: 2}
	events, err := c.WatchWithRetry(context.Background(), "/svc/", cfg, WithPrefix())
	require.NoError(t, err)

	for range 3 {
		close(nextWatch(t, f).ch)
	}

	ev := recv(t, events)
	assert.ErrorIs(t, ev.Error, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, ev.Error, ErrWatchDisconnected)
	waitClosed(t, events)
}

func TestRetryConfig_Normalize(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 2 * time.Second, MaxBackoff: time.Second, MaxRetries: -1}.normalize()
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.Zero(t, cfg.MaxRetries)

	def := RetryConfig{}.normalize()
	assert.Equal(t, DefaultRetryConfig().InitialBackoff, def.InitialBackoff)
	assert.Equal(t, DefaultRetryConfig().MaxBackoff, def.MaxBackoff)
}
