package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"hycredit/internal/ledger/models"
)

// KafkaPublisher writes ledger events to a topic keyed by credit id, so all
// events of one credit land on one partition in commit order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.CreditID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "tx_ref", Value: []byte(event.TxRef)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce ledger event: %w", err)
	}
	return nil
}

// NewKafkaClient builds a producer client for the given seed brokers.
func NewKafkaClient(brokers []string, opts ...kgo.Opt) (*kgo.Client, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the events topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicas int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, partitions, replicas, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// DecodeRecord parses a ledger event from a consumed record.
func DecodeRecord(record *kgo.Record) (*models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(record.Value, &event); err != nil {
		return nil, fmt.Errorf("decode ledger event: %w", err)
	}
	return &event, nil
}
