package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the write side of a websocket connection. *websocket.Conn
// satisfies it. WriteMessage is only called from the connection's writer
// goroutine; WriteControl and Close may be called from any goroutine.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one accepted client connection. Outbound frames go through a
// bounded FIFO drained by a single writer, so frames reach the client in
// the order they were enqueued.
type Conn struct {
	id        string
	transport Transport
	remote    string
	createdAt time.Time

	// guarded by Registry.mu
	userID   string
	username string

	send    chan []byte
	inbound chan []byte
	monitor *Monitor

	closing   chan struct{} // closed when teardown starts
	done      chan struct{} // closed when teardown has finished
	closeOnce sync.Once
	cause     error
}

func newConn(id string, t Transport, remote string, sendQueue, inboundQueue int) *Conn {
	return &Conn{
		id:        id,
		transport: t,
		remote:    remote,
		createdAt: time.Now(),
		send:      make(chan []byte, sendQueue),
		inbound:   make(chan []byte, inboundQueue),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Remote() string { return c.remote }

// Done is closed once the connection has been removed and its transport closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Cause is the reason the connection was closed, nil while open or on a
// clean shutdown.
func (c *Conn) Cause() error {
	<-c.done
	return c.cause
}

// Enqueue queues frame for the writer. It returns false when the
// connection is closed or its queue is full.
func (c *Conn) Enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) ping(writeWait time.Duration) error {
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// writeLoop drains the send queue until the connection closes or a write fails.
func (c *Conn) writeLoop(writeWait time.Duration, onFail func(error)) {
	for {
		select {
		case <-c.closing:
			return
		case frame := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				onFail(err)
				return
			}
		}
	}
}
