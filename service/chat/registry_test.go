package chat

import (
	"strconv"
	"sync"
	"testing"

	"dmchat/service/storage"

	"github.com/stretchr/testify/require"
)

func testConn(id string) *Conn {
	return newConn(id, newFakeTransport(), "", 4, 4)
}

func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	// Given 200 connections added and resolved concurrently, half of them removed
	const n = 200
	conns := make([]*Conn, n)
	for i := range conns {
		conns[i] = testConn("c" + strconv.Itoa(i))
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *Conn) {
			defer wg.Done()
			r.Add(c)
			r.ResolveIdentity(c, "u"+strconv.Itoa(i%10), "user")
			if i%2 == 0 {
				r.Remove(c)
			}
		}(i, c)
	}
	wg.Wait()

	// Then exactly the odd connections remain, indexed under their users
	req.Equal(n/2, r.Len())
	total := 0
	for u := 0; u < 10; u++ {
		total += len(r.ConnectionsFor("u" + strconv.Itoa(u)))
	}
	req.Equal(n/2, total)
	req.Len(r.Snapshot(), 5)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	c := testConn("c1")
	r.Add(c)

	req.True(r.Remove(c))
	req.False(r.Remove(c))
	req.Equal(0, r.Len())
}

func TestRegistry_ResolveAfterRemove(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	c := testConn("c1")
	r.Add(c)
	r.Remove(c)

	req.False(r.ResolveIdentity(c, "alice", "Alice"))
	req.Empty(r.Snapshot())
	req.Empty(r.ConnectionsFor("alice"))
}

func TestRegistry_SnapshotDedupesAndSorts(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	// Given bob on two tabs, alice on one and an anonymous connection
	for i, uid := range []string{"bob", "alice", "bob", ""} {
		c := testConn("c" + strconv.Itoa(i))
		r.Add(c)
		if uid != "" {
			req.True(r.ResolveIdentity(c, uid, uid+"-name"))
		}
	}

	// Then each user appears once, ordered by id
	req.Equal([]storage.OnlineUser{
		{UserID: "alice", Username: "alice-name"},
		{UserID: "bob", Username: "bob-name"},
	}, r.Snapshot())
	req.Len(r.ConnectionsFor("bob"), 2)
	req.Equal(4, r.Len())

	online, all := r.View()
	req.Len(online, 2)
	req.Len(all, 4)
}

func TestRegistry_Identity(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	c := testConn("c1")
	r.Add(c)

	_, ok := r.Identity(c)
	req.False(ok)

	r.ResolveIdentity(c, "alice", "Alice")
	id, ok := r.Identity(c)
	req.True(ok)
	req.Equal("alice", id.UserID)
	req.Equal("Alice", id.Username)
}
