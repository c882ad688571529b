package kafka

import (
	"context"
	"time"

	"dmchat/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type ConsumerGroupHandler struct {
	router *Router
	log    *zap.Logger
}

func NewConsumerGroupHandler(router *Router, log *zap.Logger) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{router: router, log: log}
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("kafka consumer group setup", zap.String("member", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("kafka consumer group cleanup")
	return nil
}

// ConsumeClaim 无论处理成功与否都 mark，删除通知不重投
func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(msg)
			session.MarkMessage(msg, "")
		}
	}
}

func (h *ConsumerGroupHandler) handle(msg *sarama.ConsumerMessage) {
	handler, err := h.router.GetHandler(msg.Topic)
	if err != nil {
		h.log.Warn("kafka message without handler", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if err := handler(msg.Topic, msg.Key, msg.Value); err != nil {
		h.log.Warn("kafka handler failed",
			zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

// StartConsumerGroup 消费 router 的全部 topic，直到 ctx 结束
func StartConsumerGroup(ctx context.Context, cfg ConsumerConfig, router *Router, log *zap.Logger) error {
	conf, err := cfg.saramaConfig()
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, conf)
	if err != nil {
		return errs.WrapMsg(err, "new kafka consumer group", "group", cfg.GroupID)
	}
	defer func() { _ = group.Close() }()

	go func() {
		for err := range group.Errors() {
			log.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	handler := NewConsumerGroupHandler(router, log)
	for {
		if err := group.Consume(ctx, cfg.Topics, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("kafka consume failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
