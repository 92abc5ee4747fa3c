package queue

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xtrntr/spotex/internal/models"
)

// partitionKey pins every order to one partition, which keeps the topic FIFO
var partitionKey = []byte("orders")

// KafkaConfig configures the Kafka queue
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Kafka is a Queue backed by a Kafka topic. Messages are committed as soon as
// they are fetched, so delivery is at most once.
type Kafka struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafka(cfg KafkaConfig) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
	}
}

func (q *Kafka) Enqueue(ctx context.Context, order *models.Order) error {
	data, err := Encode(order)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: partitionKey, Value: data}); err != nil {
		return models.Infra("enqueue order", err)
	}
	return nil
}

func (q *Kafka) Dequeue(ctx context.Context) (*models.Order, error) {
	msg, err := q.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.Infra("dequeue order", err)
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return nil, models.Infra("commit order offset", err)
	}
	return Decode(msg.Value)
}

func (q *Kafka) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
