package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"relaychat.com/internal/gateway/registry"
)

type chanConn struct {
	id, user string
	frames   chan []byte
}

func newChanConn(id, user string) *chanConn {
	return &chanConn{id: id, user: user, frames: make(chan []byte, 64)}
}

func (c *chanConn) ID() string     { return c.id }
func (c *chanConn) UserID() string { return c.user }
func (c *chanConn) Send(b []byte) bool {
	select {
	case c.frames <- b:
		return true
	default:
		return false
	}
}

func (c *chanConn) next(t *testing.T) string {
	t.Helper()
	select {
	case b := <-c.frames:
		return string(b)
	case <-time.After(2 * time.Second):
		t.Fatalf("conn %s: no frame", c.id)
		return ""
	}
}

func (c *chanConn) none(t *testing.T) {
	t.Helper()
	select {
	case b := <-c.frames:
		t.Fatalf("conn %s: unexpected frame %s", c.id, b)
	case <-time.After(100 * time.Millisecond):
	}
}

func startConsumer(t *testing.T, l *MemLog, reg *registry.Registry, readers int) *Consumer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(l, reg, WithRetryDelay(time.Millisecond))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	waitReaders(t, l, readers)
	return c
}

func waitReaders(t *testing.T, l *MemLog, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.Waiting() >= n }, 2*time.Second, time.Millisecond)
}

func TestConsumer_NewOnlyThenResume(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(10)
	reg := registry.New()
	alice := newChanConn("c1", "alice")
	reg.Insert(alice.id, alice.user, alice)

	_, err := l.Append(ctx, "alice", []byte(`{"n":0}`))
	require.NoError(t, err)

	c := startConsumer(t, l, reg, 1)
	assert.Equal(t, "1-0", c.Cursor(), "start pinned to the tail, not to $")

	for _, p := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		_, err = l.Append(ctx, "alice", []byte(p))
		require.NoError(t, err)
	}

	assert.Equal(t, `{"n":1}`, alice.next(t))
	assert.Equal(t, `{"n":2}`, alice.next(t))
	assert.Equal(t, `{"n":3}`, alice.next(t))
	alice.none(t)
	require.Eventually(t, func() bool { return c.Cursor() == "4-0" }, time.Second, time.Millisecond)
}

func TestConsumer_TwoProcessesShareOneLog(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(10)

	regA, regB := registry.New(), registry.New()
	alice := newChanConn("a1", "alice")
	bob := newChanConn("b1", "bob")
	regA.Insert(alice.id, alice.user, alice)
	regB.Insert(bob.id, bob.user, bob)

	startConsumer(t, l, regA, 1)
	startConsumer(t, l, regB, 2)

	_, err := l.Append(ctx, "alice", []byte(`{"to":"alice"}`))
	require.NoError(t, err)
	_, err = l.Append(ctx, "bob", []byte(`{"to":"bob"}`))
	require.NoError(t, err)
	_, err = l.Append(ctx, "carol", []byte(`{"to":"carol"}`))
	require.NoError(t, err)

	assert.Equal(t, `{"to":"alice"}`, alice.next(t))
	assert.Equal(t, `{"to":"bob"}`, bob.next(t))
	alice.none(t)
	bob.none(t)
}

func TestConsumer_EveryConnectionOfUser(t *testing.T) {
	l := NewMemLog(10)
	reg := registry.New()
	tab1 := newChanConn("c1", "alice")
	tab2 := newChanConn("c2", "alice")
	reg.Insert(tab1.id, tab1.user, tab1)
	reg.Insert(tab2.id, tab2.user, tab2)

	startConsumer(t, l, reg, 1)
	_, err := l.Append(context.Background(), "alice", []byte(`{"type":"message:created"}`))
	require.NoError(t, err)

	assert.Equal(t, `{"type":"message:created"}`, tab1.next(t))
	assert.Equal(t, `{"type":"message:created"}`, tab2.next(t))
}

func TestConsumer_SkipsUnparsableEntry(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(10)
	reg := registry.New()
	alice := newChanConn("c1", "alice")
	reg.Insert(alice.id, alice.user, alice)

	c := startConsumer(t, l, reg, 1)

	_, err := l.Append(ctx, "alice", []byte(`{not json`))
	require.NoError(t, err)
	_, err = l.Append(ctx, "", []byte(`{"no":"user"}`))
	require.NoError(t, err)
	_, err = l.Append(ctx, "alice", []byte(`{"ok":true}`))
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, alice.next(t))
	alice.none(t)
	require.Eventually(t, func() bool { return c.Cursor() == "3-0" }, time.Second, time.Millisecond)
}

func TestConsumer_ReadErrorRetriesSameCursor(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(10)
	reg := registry.New()
	alice := newChanConn("c1", "alice")
	reg.Insert(alice.id, alice.user, alice)

	c := startConsumer(t, l, reg, 1)
	_, err := l.Append(ctx, "alice", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, alice.next(t))
	require.Eventually(t, func() bool { return c.Cursor() == "1-0" }, time.Second, time.Millisecond)

	// the reader is parked on 1-0; the next read after it wakes fails twice
	waitReaders(t, l, 1)
	l.FailNextReads(2)
	_, err = l.Append(ctx, "alice", []byte(`{"n":2}`))
	require.NoError(t, err)
	_, err = l.Append(ctx, "alice", []byte(`{"n":3}`))
	require.NoError(t, err)

	assert.Equal(t, `{"n":2}`, alice.next(t))
	assert.Equal(t, `{"n":3}`, alice.next(t))
	alice.none(t)
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	l := NewMemLog(10)
	c := NewConsumer(l, registry.New())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitReaders(t, l, 1)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
