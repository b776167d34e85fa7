package registry

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id, user string
	mu       sync.Mutex
	frames   [][]byte
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.user }
func (f *fakeConn) Send(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, b)
	return true
}

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	r := New()
	r.Insert("c1", "alice", &fakeConn{id: "c1", user: "alice"})
	r.Insert("c2", "alice", &fakeConn{id: "c2", user: "alice"})
	r.Insert("c3", "bob", &fakeConn{id: "c3", user: "bob"})

	assert.Equal(t, []string{"c1", "c2"}, ids(r.ConnectionsFor("alice")))
	assert.Equal(t, []string{"c3"}, ids(r.ConnectionsFor("bob")))
	assert.Empty(t, r.ConnectionsFor("carol"))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.Users())
}

func TestRegistry_InsertThenRemoveRestoresState(t *testing.T) {
	r := New()
	r.Insert("c1", "alice", &fakeConn{id: "c1", user: "alice"})
	before := ids(r.ConnectionsFor("alice"))

	r.Insert("c2", "alice", &fakeConn{id: "c2", user: "alice"})
	r.Remove("c2", "alice")

	assert.Equal(t, before, ids(r.ConnectionsFor("alice")))
	assert.Equal(t, 1, r.Len())

	r.Remove("c1", "alice")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Users(), "empty user buckets are dropped")
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := New()
	r.Insert("c1", "alice", &fakeConn{id: "c1", user: "alice"})

	r.Remove("nope", "alice")
	r.Remove("c1", "mallory") // stale user id still removes the right bucket

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ConnectionsFor("alice"))
}

func TestRegistry_ReinsertMovesUser(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1", user: "alice"}
	r.Insert("c1", "alice", c)
	r.Insert("c1", "bob", c)

	assert.Empty(t, r.ConnectionsFor("alice"))
	assert.Equal(t, []string{"c1"}, ids(r.ConnectionsFor("bob")))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Clear(t *testing.T) {
	r := New()
	r.Insert("c1", "alice", &fakeConn{id: "c1", user: "alice"})
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.All())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", w%3)
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				r.Insert(id, user, &fakeConn{id: id, user: user})
				_ = r.ConnectionsFor(user)
				_ = r.All()
				r.Remove(id, user)
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Users())
}
