package chat

import (
	"sort"
	"sync"

	"dmchat/service/storage"
)

type userEntry struct {
	username string
	conns    map[string]*Conn
}

// Registry is the single table of live connections. Identity fields on
// Conn are only read or written while holding mu.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]*userEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byUser: make(map[string]*userEntry),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
	if c.userID != "" {
		r.indexLocked(c)
	}
}

// Remove reports whether c was still registered. A second call for the
// same connection is a no-op returning false.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	r.unindexLocked(c)
	return true
}

// ResolveIdentity attaches userID/username to a registered connection.
// It returns false when the connection has already been removed.
func (r *Registry) ResolveIdentity(c *Conn, userID, username string) bool {
	if userID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	if c.userID != "" && c.userID != userID {
		r.unindexLocked(c)
	}
	c.userID, c.username = userID, username
	r.indexLocked(c)
	return true
}

func (r *Registry) indexLocked(c *Conn) {
	e := r.byUser[c.userID]
	if e == nil {
		e = &userEntry{conns: make(map[string]*Conn)}
		r.byUser[c.userID] = e
	}
	e.username = c.username
	e.conns[c.id] = c
}

func (r *Registry) unindexLocked(c *Conn) {
	if c.userID == "" {
		return
	}
	e := r.byUser[c.userID]
	if e == nil {
		return
	}
	delete(e.conns, c.id)
	if len(e.conns) == 0 {
		delete(r.byUser, c.userID)
	}
}

// Identity returns the resolved identity of c, if any.
func (r *Registry) Identity(c *Conn) (storage.OnlineUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c.userID == "" {
		return storage.OnlineUser{}, false
	}
	return storage.OnlineUser{UserID: c.userID, Username: c.username}, true
}

// Snapshot lists every identified user once, ordered by userId.
func (r *Registry) Snapshot() []storage.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []storage.OnlineUser {
	out := make([]storage.OnlineUser, 0, len(r.byUser))
	for uid, e := range r.byUser {
		out = append(out, storage.OnlineUser{UserID: uid, Username: e.username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) ConnectionsFor(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.byUser[userID]
	if e == nil {
		return nil
	}
	out := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// View returns the snapshot and the audience taken under one lock.
func (r *Registry) View() ([]storage.OnlineUser, []*Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), r.allLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
