package chat

import (
	"sync"
	"sync/atomic"

	"dmchat/service/storage"

	"go.uber.org/zap"
)

// PresenceSink receives every snapshot after it has been broadcast.
// storage.PresenceMirror implements it.
type PresenceSink interface {
	Publish(snapshot []storage.OnlineUser)
}

// Presence pushes the online list to every open connection, identified or not.
type Presence struct {
	log      *zap.Logger
	registry *Registry
	deliver  func([]*Conn, []byte)
	sink     PresenceSink

	// mu 串行化整个 announce，保证最后送达的一定是最新快照
	mu         sync.Mutex
	broadcasts atomic.Int64
}

func newPresence(log *zap.Logger, registry *Registry, deliver func([]*Conn, []byte)) *Presence {
	return &Presence{log: log, registry: registry, deliver: deliver}
}

// Announce builds the snapshot once and sends the same frame to everyone.
// Concurrent calls are serialized from snapshot to sink, so frames and
// mirror writes land in the order their snapshots were taken.
func (p *Presence) Announce() {
	p.mu.Lock()
	defer p.mu.Unlock()

	online, audience := p.registry.View()
	frame, err := EncodePresence(online)
	if err != nil {
		p.log.Error("encode presence failed", zap.Error(err))
		return
	}
	p.broadcasts.Add(1)
	p.deliver(audience, frame)
	p.log.Debug("presence broadcast", zap.Int("online", len(online)), zap.Int("audience", len(audience)))
	if p.sink != nil {
		p.sink.Publish(online)
	}
}

// Broadcasts counts Announce calls that produced a frame.
func (p *Presence) Broadcasts() int64 { return p.broadcasts.Load() }
