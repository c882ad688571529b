package kafka

import (
	"dmchat/tools/errs"

	"github.com/Shopify/sarama"
)

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	Version       string // 例如 "2.1.0"
	InitialOffset string // newest/oldest
}

func (c ConsumerConfig) saramaConfig() (*sarama.Config, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.New("kafka brokers missing").Wrap()
	}
	if c.GroupID == "" || len(c.Topics) == 0 {
		return nil, errs.New("kafka group and topics are required", "group", c.GroupID, "topics", c.Topics).Wrap()
	}
	conf := sarama.NewConfig()
	conf.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.WrapMsg(err, "parse kafka version", "version", c.Version)
		}
		conf.Version = v
	}
	switch c.InitialOffset {
	case "", "newest":
		conf.Consumer.Offsets.Initial = sarama.OffsetNewest
	case "oldest":
		conf.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		return nil, errs.New("unknown initial offset", "offset", c.InitialOffset).Wrap()
	}
	conf.Consumer.Return.Errors = true
	return conf, nil
}
