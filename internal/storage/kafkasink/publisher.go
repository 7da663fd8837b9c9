package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"dexmirror/internal/model"
	"dexmirror/internal/storage"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends account records to a Kafka topic keyed by account address,
// so consumers see every account's snapshots in order on one partition.
type Publisher struct {
	accounts messageWriter
	failures messageWriter
}

var _ storage.Storage = (*Publisher)(nil)

// NewPublisher writes accounts to topic and failures to failuresTopic.
// Failures are dropped when failuresTopic is empty.
func NewPublisher(brokers []string, topic, failuresTopic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	p := &Publisher{accounts: newWriter(brokers, topic)}
	if failuresTopic != "" {
		p.failures = newWriter(brokers, failuresTopic)
	}
	return p, nil
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (p *Publisher) PutAccountBatch(ctx context.Context, records []model.AccountRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Address),
			Value: value,
			Headers: []kafka.Header{
				{Key: "pool", Value: []byte(rec.Pool)},
				{Key: "slot", Value: []byte(strconv.FormatUint(rec.Slot, 10))},
			},
		})
	}
	if err := p.accounts.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish accounts: %w", err)
	}
	return nil
}

func (p *Publisher) PutFailureBatch(ctx context.Context, records []model.FailureRecord) error {
	if len(records) == 0 || p.failures == nil {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal failure: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(rec.Address), Value: value})
	}
	if err := p.failures.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish failures: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	err := p.accounts.Close()
	if p.failures != nil {
		if ferr := p.failures.Close(); err == nil {
			err = ferr
		}
	}
	return err
}
