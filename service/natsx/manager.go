package natsx

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const BizMessageDeleted = "chat.message.deleted"

// NatsManager 统一入口：一个客户端 + 一个带公共中间件的消费者
type NatsManager struct {
	client   *NatsxClient
	consumer *NatsxConsumer
}

func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{client: c, consumer: NewNatsxConsumer(c, middlewares...)}, nil
}

func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	return m.client.RegisterRoute(r)
}

func (m *NatsManager) Subscribe(biz string, h NatsxHandler) error {
	return m.consumer.Subscribe(biz, h)
}

// SubscribeDeletions 订阅消息删除事件
func (m *NatsManager) SubscribeDeletions(subject, queue string, apply func([]byte) error) error {
	if err := m.RegisterRoute(NatsxRoute{Biz: BizMessageDeleted, Subject: subject, Queue: queue}); err != nil {
		return err
	}
	return m.Subscribe(BizMessageDeleted, DeletionHandler(apply))
}

func DeletionHandler(apply func([]byte) error) NatsxHandler {
	return func(_ context.Context, msg NatsxMessage) error {
		return apply(msg.Data)
	}
}

// DefaultMiddlewares 日志 + 十分钟去重
func DefaultMiddlewares(ctx context.Context, log *zap.Logger) []NatsxMiddleware {
	return []NatsxMiddleware{
		NatsxLogMiddleware(log),
		NatsxIdemMiddleware(NewMemIdem(ctx, 10*time.Minute), 0),
	}
}
