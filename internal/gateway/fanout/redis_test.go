package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"relaychat.com/internal/gateway/registry"
	"relaychat.com/pkg/xredis"
)

func newRedisLog(t *testing.T, cfg RedisConfig) (*miniredis.Miniredis, *RedisStreamLog) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb, err := xredis.NewRedis(context.Background(), &xredis.Config{Addr: m.Addr(), PoolSize: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return m, NewRedisStreamLog(rdb, cfg)
}

func TestRedisStreamLog_AppendRead(t *testing.T) {
	ctx := context.Background()
	m, l := newRedisLog(t, RedisConfig{Stream: "fanout", Batch: 2, BlockMs: 20, MaxLen: 1000})

	var ids []string
	for _, u := range []string{"alice", "bob", "carol"} {
		id, err := l.Append(ctx, u, []byte(`{"to":"`+u+`"}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	stored, err := m.Stream("fanout")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, []string{FieldUser, "alice", FieldPayload, `{"to":"alice"}`}, stored[0].Values)

	got, err := l.Read(ctx, "0")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, "alice", got[0].User)
	assert.Equal(t, `{"to":"alice"}`, string(got[0].Payload))

	got, err = l.Read(ctx, got[1].ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, "carol", got[0].User)
}

func TestRedisStreamLog_IdleReadIsEmpty(t *testing.T) {
	_, l := newRedisLog(t, RedisConfig{Stream: "fanout", BlockMs: 20})

	got, err := l.Read(context.Background(), "0-0")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStreamLog_Tail(t *testing.T) {
	ctx := context.Background()
	_, l := newRedisLog(t, RedisConfig{Stream: "fanout", BlockMs: 20})

	tail, err := l.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0-0", tail)

	_, err = l.Append(ctx, "alice", []byte(`{}`))
	require.NoError(t, err)
	last, err := l.Append(ctx, "bob", []byte(`{}`))
	require.NoError(t, err)

	tail, err = l.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, tail)
}

// An entry appended between two idle reads is still returned when reads
// continue from the tail rather than from NewOnly.
func TestRedisStreamLog_NoGapBetweenIdleReads(t *testing.T) {
	ctx := context.Background()
	_, l := newRedisLog(t, RedisConfig{Stream: "fanout", BlockMs: 20})
	_, err := l.Append(ctx, "alice", []byte(`{"n":0}`))
	require.NoError(t, err)

	tail, err := l.Tail(ctx)
	require.NoError(t, err)
	got, err := l.Read(ctx, tail)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = l.Append(ctx, "alice", []byte(`{"n":1}`))
	require.NoError(t, err)

	got, err = l.Read(ctx, tail)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, `{"n":1}`, string(got[0].Payload))
}

func runConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
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
}

func TestConsumer_RedisIdleAndErrorGaps(t *testing.T) {
	ctx := context.Background()
	m, l := newRedisLog(t, RedisConfig{Stream: "fanout", BlockMs: 20})
	_, err := l.Append(ctx, "alice", []byte(`{"n":0}`))
	require.NoError(t, err)
	before, err := l.Tail(ctx)
	require.NoError(t, err)

	reg := registry.New()
	alice := newChanConn("c1", "alice")
	reg.Insert(alice.id, alice.user, alice)

	c := NewConsumer(l, reg, WithRetryDelay(5*time.Millisecond))
	runConsumer(t, c)
	require.Eventually(t, func() bool { return c.Cursor() == before }, 2*time.Second, time.Millisecond)

	// several block windows lapse with nothing to read
	time.Sleep(80 * time.Millisecond)
	_, err = l.Append(ctx, "alice", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, alice.next(t))

	// reads fail for a while; the entry written meanwhile still arrives
	m.SetError("ERR injected failure")
	time.Sleep(60 * time.Millisecond)
	_, err = m.XAdd("fanout", "*", []string{FieldUser, "alice", FieldPayload, `{"n":2}`})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	m.SetError("")

	assert.Equal(t, `{"n":2}`, alice.next(t))
	alice.none(t)
}
