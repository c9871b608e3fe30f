package source

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects the upstream topic carrying traffic delta messages.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// kafkaStream adapts a kafka-go reader to the Stream interface.
type kafkaStream struct {
	reader *kafka.Reader
}

// NewKafkaStream creates a consumer-group stream over the traffic topic.
func NewKafkaStream(cfg KafkaConfig) Stream {
	return &kafkaStream{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
	}
}

func (s *kafkaStream) Fetch(ctx context.Context) ([]byte, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Value, nil
}

func (s *kafkaStream) Close() error {
	return s.reader.Close()
}
