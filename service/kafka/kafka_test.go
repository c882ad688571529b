package kafka

import (
	"context"
	"testing"

	"dmchat/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestConsumeClaim_RoutesAndMarksEveryMessage(t *testing.T) {
	req := require.New(t)

	// Given a router with a deletion handler that rejects one payload
	var applied []string
	router := NewRouter()
	router.RegisterHandler("chat.message.deleted", DeletionHandler(func(b []byte) error {
		if string(b) == "bad" {
			return errs.New("bad payload")
		}
		applied = append(applied, string(b))
		return nil
	}))

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 4)}
	claim.ch <- &sarama.ConsumerMessage{Topic: "chat.message.deleted", Offset: 1, Value: []byte(`{"messageId":"m1"}`)}
	claim.ch <- &sarama.ConsumerMessage{Topic: "chat.message.deleted", Offset: 2, Value: []byte("bad")}
	claim.ch <- &sarama.ConsumerMessage{Topic: "other", Offset: 3, Value: []byte("x")}
	close(claim.ch)
	session := &fakeSession{ctx: context.Background()}

	// When the claim is consumed
	err := NewConsumerGroupHandler(router, zap.NewNop()).ConsumeClaim(session, claim)

	// Then the good event is applied and all offsets are committed
	req.NoError(err)
	req.Equal([]string{`{"messageId":"m1"}`}, applied)
	req.Equal([]int64{1, 2, 3}, session.marked)
}

func TestConsumeClaim_StopsOnSessionEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage)}

	err := NewConsumerGroupHandler(NewRouter(), zap.NewNop()).ConsumeClaim(&fakeSession{ctx: ctx}, claim)

	require.NoError(t, err)
}

func TestRouter(t *testing.T) {
	req := require.New(t)
	r := NewRouter()
	_, err := r.GetHandler("missing")
	req.Error(err)

	r.RegisterHandler("a", func(string, []byte, []byte) error { return nil })
	_, err = r.GetHandler("a")
	req.NoError(err)
	req.Equal([]string{"a"}, r.Topics())
}

func TestConsumerConfig(t *testing.T) {
	req := require.New(t)

	_, err := ConsumerConfig{}.saramaConfig()
	req.Error(err)
	_, err = ConsumerConfig{Brokers: []string{"k:9092"}, GroupID: "g"}.saramaConfig()
	req.Error(err)
	_, err = ConsumerConfig{Brokers: []string{"k:9092"}, GroupID: "g", Topics: []string{"t"}, InitialOffset: "middle"}.saramaConfig()
	req.Error(err)

	conf, err := ConsumerConfig{Brokers: []string{"k:9092"}, GroupID: "g", Topics: []string{"t"}, Version: "2.8.0", InitialOffset: "oldest"}.saramaConfig()
	req.NoError(err)
	req.Equal(sarama.OffsetOldest, conf.Consumer.Offsets.Initial)
	req.Equal(sarama.V2_8_0_0, conf.Version)
}
