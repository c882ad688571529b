package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"dmchat/data/database/mgo/mongoutil"
	"dmchat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second
	failThresh  = 3
)

// MongoManager keeps one live client, reconnecting with backoff when pings fail.
type MongoManager struct {
	log *zap.Logger
	cfg *mongoutil.Config

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 第一次连上时关闭
	readyOnce sync.Once

	lastErr atomic.Value // error
}

func NewManager(cfg *mongoutil.Config, log *zap.Logger) *MongoManager {
	return &MongoManager{cfg: cfg, log: log, readyCh: make(chan struct{})}
}

// StartAsync 后台连接，直到 ctx 结束
func (m *MongoManager) StartAsync(ctx context.Context) {
	go func() {
		for {
			if !m.connect(ctx) {
				return
			}
			if !m.watch(ctx) {
				return
			}
			m.log.Warn("mongo connection lost, reconnecting", zap.Error(m.Err()))
		}
	}()
}

// connect 指数退避 + 抖动重试；返回 false 表示 ctx 已结束
func (m *MongoManager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			m.log.Info("mongo connected", zap.String("db", m.cfg.Database))
			return true
		}
		m.lastErr.Store(err)
		m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		backoff := baseBackoff << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1)) // 0~20%
		timer := time.NewTimer(backoff - jitter/2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watch 定期 ping；false 表示 ctx 结束，true 表示需要重连
func (m *MongoManager) watch(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= failThresh {
					m.drop()
					return true
				}
			} else {
				fail = 0
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready is closed after the first successful connect.
func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

// Err returns the most recent connect or ping error.
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

func (m *MongoManager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready", "lastErr", m.Err())
	}
}
