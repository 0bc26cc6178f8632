// Package kafka builds the franz-go client used by the audit outbox relay.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes a topic the process expects to exist.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	RetentionMs       string
}

// NewProducer connects a producer that waits for all in-sync replicas.
func NewProducer(ctx context.Context, brokers []string, opts ...kgo.Opt) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("anchorage"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.RecordRetries(5),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka: ping brokers: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic TopicSpec, logger *slog.Logger) error {
	if topic.Partitions <= 0 {
		topic.Partitions = 1
	}
	if topic.ReplicationFactor <= 0 {
		topic.ReplicationFactor = 1
	}
	var configs map[string]*string
	if topic.RetentionMs != "" {
		configs = map[string]*string{"retention.ms": &topic.RetentionMs}
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, topic.Partitions, topic.ReplicationFactor, configs, topic.Name)
	if err == nil {
		err = resp.Err
	}
	switch {
	case err == nil:
		logger.InfoContext(ctx, "created kafka topic", "topic", topic.Name, "partitions", topic.Partitions)
		return nil
	case errors.Is(err, kerr.TopicAlreadyExists):
		return nil
	default:
		return fmt.Errorf("kafka: create topic %s: %w", topic.Name, err)
	}
}
