package registry

import (
	"sync"
)

// Conn is the live handle of one accepted connection. Send must not block:
// it queues the frame and reports false when the frame was dropped.
type Conn interface {
	ID() string
	UserID() string
	Send(frame []byte) bool
}

type entry struct {
	userID string
	conn   Conn
}

// Registry indexes this process's connections by id and by user. A connection
// id is in byConn iff it is in exactly one byUser bucket; both maps change
// under the same lock.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]entry           // conn_id -> entry
	byUser map[string]map[string]Conn // user_id -> conn_id -> conn
}

func New() *Registry {
	return &Registry{
		byConn: make(map[string]entry, 1024),
		byUser: make(map[string]map[string]Conn, 1024),
	}
}

// Insert adds c under connID and userID. A user's other connections stay
// registered. Re-inserting a known connID replaces the old entry.
func (r *Registry) Insert(connID, userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byConn[connID]; ok {
		r.unlinkLocked(connID, old.userID)
	}
	r.byConn[connID] = entry{userID: userID, conn: c}
	m := r.byUser[userID]
	if m == nil {
		m = make(map[string]Conn, 2)
		r.byUser[userID] = m
	}
	m[connID] = c
}

// Remove deletes connID. Unknown ids are a no-op. The user bucket is taken
// from the stored entry, so a stale userID cannot leave a dangling index.
func (r *Registry) Remove(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byConn[connID]
	if !ok {
		return
	}
	if old.userID != userID {
		userID = old.userID
	}
	delete(r.byConn, connID)
	r.unlinkLocked(connID, userID)
}

func (r *Registry) unlinkLocked(connID, userID string) {
	if m := r.byUser[userID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// ConnectionsFor returns a snapshot of userID's local connections; empty for
// users with nothing registered here.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// All is a snapshot of every registered connection (keepalive, shutdown).
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e.conn)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Clear empties both indexes. Tests only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn = make(map[string]entry, 1024)
	r.byUser = make(map[string]map[string]Conn, 1024)
}
