package natsx

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 处理器中间件（日志、去重等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组装中间件，mws[0] 最先执行
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxLogMiddleware 失败必打日志，debug 级别记录每条
func NatsxLogMiddleware(log *zap.Logger) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			start := time.Now()
			err := next(ctx, msg)
			if err != nil {
				log.Warn("nats message rejected", zap.String("subject", msg.Subject), zap.Error(err))
				return err
			}
			log.Debug("nats message handled", zap.String("subject", msg.Subject), zap.Duration("took", time.Since(start)))
			return nil
		}
	}
}
