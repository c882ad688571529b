package storage

import (
	"context"
	"sync"
	"time"

	"dmchat/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceMirror copies the latest presence snapshot to an external store.
// Publish never blocks; intermediate snapshots are coalesced and only the
// most recent one is written.
type PresenceMirror struct {
	log     *zap.Logger
	write   func(ctx context.Context, snapshot []OnlineUser) error
	refresh time.Duration
	timeout time.Duration

	mu      sync.Mutex
	latest  []OnlineUser
	written bool
	wake    chan struct{}
}

// NewRedisPresence mirrors the snapshot into hash key (userId -> username).
// The key expires after ttl unless refreshed, so a dead hub does not leave users online.
func NewRedisPresence(client redis.Cmdable, key string, ttl time.Duration, log *zap.Logger) *PresenceMirror {
	return newPresenceMirror(log, redisSnapshotWriter(client, key, ttl), ttl/2)
}

func newPresenceMirror(log *zap.Logger, write func(context.Context, []OnlineUser) error, refresh time.Duration) *PresenceMirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceMirror{
		log:     log,
		write:   write,
		refresh: refresh,
		timeout: 3 * time.Second,
		written: true,
		wake:    make(chan struct{}, 1),
	}
}

func redisSnapshotWriter(client redis.Cmdable, key string, ttl time.Duration) func(context.Context, []OnlineUser) error {
	return func(ctx context.Context, snapshot []OnlineUser) error {
		pipe := client.TxPipeline()
		pipe.Del(ctx, key)
		if len(snapshot) > 0 {
			values := make([]interface{}, 0, len(snapshot)*2)
			for _, u := range snapshot {
				values = append(values, u.UserID, u.Username)
			}
			pipe.HSet(ctx, key, values...)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
		}
		_, err := pipe.Exec(ctx)
		return errs.WrapMsg(err, "write presence snapshot", "key", key)
	}
}

func (m *PresenceMirror) Publish(snapshot []OnlineUser) {
	cp := make([]OnlineUser, len(snapshot))
	copy(cp, snapshot)

	m.mu.Lock()
	m.latest = cp
	m.written = false
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes snapshots until ctx is done. It also rewrites the last snapshot
// every refresh period to keep the key alive.
func (m *PresenceMirror) Run(ctx context.Context) {
	var tick <-chan time.Time
	if m.refresh > 0 {
		t := time.NewTicker(m.refresh)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.flush(ctx, false)
		case <-tick:
			m.flush(ctx, true)
		}
	}
}

func (m *PresenceMirror) flush(ctx context.Context, force bool) {
	m.mu.Lock()
	if m.written && !force {
		m.mu.Unlock()
		return
	}
	snapshot := m.latest
	m.written = true
	m.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.write(wctx, snapshot); err != nil {
		m.log.Warn("presence mirror write failed", zap.Int("online", len(snapshot)), zap.Error(err))
	}
}
