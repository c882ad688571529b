package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"dmchat/service/storage"
	"dmchat/tools/errs"
	"dmchat/tools/security"

	"go.uber.org/zap"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	pings  int
	closed bool
	onPing func()

	// gate, when set, blocks WriteMessage until Close
	gate chan struct{}
}

func newFakeTransport() *fakeTransport { return &fakeTransport{} }

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errs.New("transport closed")
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(_ int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errs.New("transport closed")
	}
	f.pings++
	cb := f.onPing
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		if f.gate != nil {
			close(f.gate)
		}
	}
	return nil
}

func (f *fakeTransport) setOnPing(cb func()) {
	f.mu.Lock()
	f.onPing = cb
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// decoded frames of the given kind: "presence", "message" or "deleted"
func (f *fakeTransport) kind(kind string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, raw := range f.frames {
		var m map[string]any
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		_, isPresence := m["online"]
		_, isMessage := m["_id"]
		switch {
		case kind == "presence" && isPresence,
			kind == "message" && isMessage,
			kind == "deleted" && m["type"] == frameTypeMessageDeleted:
			out = append(out, m)
		}
	}
	return out
}

// tokenVerifier maps fixed tokens to identities; anything else is invalid.
type tokenVerifier map[string]security.Identity

func (v tokenVerifier) Verify(_ context.Context, token string) (security.Identity, error) {
	if token == "" {
		return security.Identity{}, errs.ErrTokenMissing.Wrap()
	}
	id, ok := v[token]
	if !ok {
		return security.Identity{}, errs.ErrTokenInvalid.Wrap()
	}
	return id, nil
}

type memStore struct {
	mu   sync.Mutex
	seq  int
	msgs map[string]storage.Message
}

func newMemStore() *memStore { return &memStore{msgs: map[string]storage.Message{}} }

func (s *memStore) Append(_ context.Context, m storage.Message) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.ID = "m" + strconv.Itoa(s.seq)
	m.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	s.msgs[m.ID] = m
	return m, nil
}

func (s *memStore) Get(_ context.Context, id string) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return storage.Message{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *memStore) Conversation(_ context.Context, a, b string) ([]storage.Message, error) {
	return nil, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, id)
	return nil
}

// newTestHub builds a hub whose probes never fire unless conf says otherwise.
func newTestHub(t *testing.T, conf HubConf, v security.Verifier, messages storage.MessageStore, attachments storage.AttachmentStore) *Hub {
	t.Helper()
	if conf.ProbeInterval == 0 {
		conf.ProbeInterval = time.Hour
	}
	if conf.PongDeadline == 0 {
		conf.PongDeadline = time.Minute
	}
	if v == nil {
		v = tokenVerifier{}
	}
	h := NewHub(conf, zap.NewNop(), v, messages, attachments, nil)
	t.Cleanup(h.Shutdown)
	return h
}
