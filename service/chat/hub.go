package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"dmchat/service/storage"
	"dmchat/tools/errs"
	"dmchat/tools/ids"
	"dmchat/tools/safe"
	"dmchat/tools/security"

	"go.uber.org/zap"
)

type HubConf struct {
	ProbeInterval time.Duration
	PongDeadline  time.Duration
	WriteWait     time.Duration
	SendQueueSize int
	InboundQueue  int
	VerifyTimeout time.Duration
	Clock         func() time.Time // nil => time.Now
}

func (c *HubConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.PongDeadline <= 0 {
		c.PongDeadline = time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = 16
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 5 * time.Second
	}
}

// Hub owns the connection registry and drives every connection's lifecycle.
type Hub struct {
	conf     atomic.Pointer[HubConf]
	log      *zap.Logger
	verifier security.Verifier
	ids      *ids.Generator

	registry *Registry
	presence *Presence
	relay    *Relay

	ctx    context.Context
	cancel context.CancelFunc
	// 停机时不再逐个广播 presence
	stopping atomic.Bool
}

func NewHub(conf HubConf, log *zap.Logger, verifier security.Verifier,
	messages storage.MessageStore, attachments storage.AttachmentStore, gen *ids.Generator) *Hub {
	conf.norm()
	if log == nil {
		log = zap.NewNop()
	}
	if gen == nil {
		gen = ids.NewGenerator(0)
	}
	h := &Hub{
		log:      log,
		verifier: verifier,
		ids:      gen,
		registry: NewRegistry(),
	}
	h.conf.Store(&conf)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.presence = newPresence(log, h.registry, h.deliver)
	h.relay = newRelay(log, h.registry, messages, attachments, conf.Clock, h.deliver)
	return h
}

// WithPresenceSink mirrors every presence snapshot to sink. Call before Accept.
func (h *Hub) WithPresenceSink(sink PresenceSink) *Hub {
	h.presence.sink = sink
	return h
}

// Conf returns the settings new connections are accepted with.
func (h *Hub) Conf() HubConf { return *h.conf.Load() }

// UpdateConf swaps timings and queue sizes for connections accepted from
// now on; open connections keep theirs. The clock is never replaced.
func (h *Hub) UpdateConf(conf HubConf) {
	conf.Clock = h.Conf().Clock
	conf.norm()
	h.conf.Store(&conf)
	h.log.Info("hub settings updated",
		zap.Duration("probe_interval", conf.ProbeInterval),
		zap.Duration("pong_deadline", conf.PongDeadline),
		zap.Int("send_queue", conf.SendQueueSize),
		zap.Int("inbound_queue", conf.InboundQueue))
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Presence() *Presence { return h.presence }

// Accept registers a freshly upgraded connection as anonymous, starts its
// writer, liveness monitor and inbound worker, and verifies token in the
// background. No presence is announced until the identity resolves.
func (h *Hub) Accept(t Transport, remote, token string) *Conn {
	conf := h.Conf()
	c := newConn(h.ids.NextString(), t, remote, conf.SendQueueSize, conf.InboundQueue)
	c.monitor = NewMonitor(conf.ProbeInterval, conf.PongDeadline,
		func() error { return c.ping(conf.WriteWait) },
		func(cause error) { h.Close(c, cause) })

	h.registry.Add(c)
	h.log.Debug("connection accepted", zap.String("conn", c.id), zap.String("remote", remote))

	safe.Go(h.log, "ws-writer", func() {
		c.writeLoop(conf.WriteWait, func(err error) { h.Close(c, errs.WrapMsg(err, "write frame")) })
	})
	safe.Go(h.log, "ws-liveness", c.monitor.Run)
	safe.Go(h.log, "ws-inbound", func() { h.inboundLoop(c) })
	safe.Go(h.log, "ws-identity", func() { h.resolve(c, token, conf.VerifyTimeout) })
	return c
}

func (h *Hub) resolve(c *Conn, token string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	id, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.log.Debug("connection stays anonymous", zap.String("conn", c.id), zap.Error(err))
		return
	}
	if !h.registry.ResolveIdentity(c, id.UserID, id.Username) {
		h.log.Debug("identity resolved after close", zap.String("conn", c.id), zap.String("user", id.UserID))
		return
	}
	h.log.Info("connection identified", zap.String("conn", c.id), zap.String("user", id.UserID))
	h.presence.Announce()
}

// Receive hands one inbound frame to the connection's worker. Frames from
// one connection are processed in arrival order. It blocks while the
// inbound queue is full and returns false once c is closed. While blocked
// the reader cannot see pongs, so liveness is held until the queue drains.
func (h *Hub) Receive(c *Conn, raw []byte) bool {
	select {
	case c.inbound <- raw:
		return true
	case <-c.closing:
		return false
	default:
	}

	c.monitor.Hold()
	defer c.monitor.Release()
	select {
	case c.inbound <- raw:
		return true
	case <-c.closing:
		return false
	}
}

func (h *Hub) inboundLoop(c *Conn) {
	for {
		select {
		case <-c.closing:
			return
		case raw := <-c.inbound:
			_, _ = h.relay.HandleInbound(h.ctx, c, raw)
		}
	}
}

// HandleInbound processes raw synchronously on the caller's goroutine.
func (h *Hub) HandleInbound(ctx context.Context, c *Conn, raw []byte) (storage.Message, error) {
	return h.relay.HandleInbound(ctx, c, raw)
}

// Pong feeds a probe acknowledgement to c's liveness monitor.
func (h *Hub) Pong(c *Conn) {
	c.monitor.Pong()
}

// Close tears c down exactly once: stop its monitor, drop it from the
// registry, close the transport, then announce presence. Every path that
// ends a connection goes through here.
func (h *Hub) Close(c *Conn, cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		close(c.closing)
		c.monitor.Stop()
		removed := h.registry.Remove(c)
		_ = c.transport.Close()

		fields := []zap.Field{zap.String("conn", c.id), zap.String("remote", c.remote)}
		if id, ok := h.registry.Identity(c); ok {
			fields = append(fields, zap.String("user", id.UserID))
		}
		switch {
		case cause == nil:
			h.log.Debug("connection closed", fields...)
		case errors.Is(cause, errs.ErrLivenessTimeout), errors.Is(cause, errs.ErrSlowConsumer):
			h.log.Info("connection evicted", append(fields, zap.Error(cause))...)
		default:
			h.log.Debug("connection closed", append(fields, zap.Error(cause))...)
		}

		if removed && !h.stopping.Load() {
			h.presence.Announce()
		}
		close(c.done)
	})
}

// deliver enqueues frame on every target. A target whose queue is full is
// evicted asynchronously.
func (h *Hub) deliver(targets []*Conn, frame []byte) {
	for _, c := range targets {
		if c.Enqueue(frame) || c.Closed() {
			continue
		}
		c := c
		safe.Go(h.log, "ws-evict", func() {
			h.Close(c, errs.ErrSlowConsumer.WrapMsg("send queue full", "conn", c.id))
		})
	}
}

// AnnounceDeletion tells every open connection that messageID is gone.
func (h *Hub) AnnounceDeletion(messageID string) error {
	if messageID == "" {
		return errs.ErrInvalidFrame.WrapMsg("empty messageId")
	}
	frame, err := EncodeDeleted(messageID)
	if err != nil {
		return errs.Wrap(err)
	}
	h.deliver(h.registry.All(), frame)
	h.log.Info("message deletion announced", zap.String("id", messageID))
	return nil
}

// HandleDeletionEvent decodes a deletion event from a broker and announces it.
func (h *Hub) HandleDeletionEvent(data []byte) error {
	id, err := ParseDeletionEvent(data)
	if err != nil {
		return err
	}
	return h.AnnounceDeletion(id)
}

// Shutdown closes every connection and cancels in-flight store calls.
// Connections closed by Shutdown do not trigger presence broadcasts.
func (h *Hub) Shutdown() {
	h.stopping.Store(true)
	for _, c := range h.registry.All() {
		h.Close(c, nil)
	}
	h.cancel()
}
