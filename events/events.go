// Package events publishes offer lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"promo-bot/models"
	"promo-bot/utils"

	"github.com/IBM/sarama"
)

// Event types
const (
	TypeCollected = "offer.collected"
	TypeDelivered = "offer.delivered"
)

// Event is one offer lifecycle change
type Event struct {
	Type    string          `json:"type"`
	ItemID  string          `json:"item_id"`
	RunID   string          `json:"run_id,omitempty"`
	At      time.Time       `json:"at"`
	Product *models.Product `json:"product,omitempty"`
}

// Publisher sends events somewhere
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// KafkaPublisher writes events as JSON to a Kafka topic, keyed by item ID
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *utils.Logger
}

// NewKafkaPublisher connects a synchronous producer to brokers
func NewKafkaPublisher(brokers []string, topic string, logger *utils.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *utils.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger.With("events")}
}

// Publish sends e and waits for the broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.ItemID),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s %s: %w", e.Type, e.ItemID, err)
	}
	p.logger.Debug("Published %s %s (partition %d, offset %d)", e.Type, e.ItemID, partition, offset)
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// New returns a KafkaPublisher when brokers are configured, NopPublisher otherwise
func New(brokers []string, topic string, logger *utils.Logger) (Publisher, error) {
	if len(brokers) == 0 {
		return NopPublisher{}, nil
	}
	return NewKafkaPublisher(brokers, topic, logger)
}
