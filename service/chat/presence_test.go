package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPresence_ConcurrentAnnouncesEndOnLatestSnapshot(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	alice := newConn("a", newFakeTransport(), "a", 8, 1)
	reg.Add(alice)
	req.True(reg.ResolveIdentity(alice, "alice", "Alice"))

	// Given a delivery path that parks the first announce mid-flight
	var (
		mu      sync.Mutex
		frames  []string
		calls   int
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	p := newPresence(zap.NewNop(), reg, func(_ []*Conn, frame []byte) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		mu.Lock()
		frames = append(frames, string(frame))
		mu.Unlock()
	})
	sink := &recordingSink{}
	p.sink = sink

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Announce()
	}()
	<-entered

	// When alice leaves and a second announce races the parked one
	req.True(reg.Remove(alice))
	go func() {
		defer wg.Done()
		p.Announce()
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Then the last frame and the last mirrored snapshot are both empty
	mu.Lock()
	defer mu.Unlock()
	req.Len(frames, 2)
	req.JSONEq(`{"online":[{"userId":"alice","username":"Alice"}]}`, frames[0])
	req.JSONEq(`{"online":[]}`, frames[1])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	req.Len(sink.snapshots, 2)
	req.Empty(sink.snapshots[1])
	req.Equal(int64(2), p.Broadcasts())
}
