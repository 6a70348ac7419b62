package newsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/metrics"
)

// MessageReader is the subset of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the topic news incidents are streamed on
type KafkaConfig struct {
	Brokers []string `koanf:"brokers" yaml:"brokers"`
	Topic   string   `koanf:"topic" yaml:"topic"`
	GroupID string   `koanf:"group_id" yaml:"group_id"`
}

// Enabled reports whether enough is configured to connect
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// Consumer upserts news incidents from a Kafka topic into a Store
type Consumer struct {
	reader  MessageReader
	store   *Store
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

// NewConsumer connects a consumer group reader for cfg
func NewConsumer(cfg KafkaConfig, store *Store, clock clockwork.Clock) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return NewConsumerWithReader(reader, store, clock)
}

// NewConsumerWithReader builds a consumer on an existing reader
func NewConsumerWithReader(reader MessageReader, store *Store, clock clockwork.Clock) *Consumer {
	return &Consumer{reader: reader, store: store, clock: clock}
}

// WithMetrics records ingested and rejected messages on m
func (c *Consumer) WithMetrics(m *metrics.Metrics) *Consumer {
	c.metrics = m
	return c
}

// Run consumes until ctx is cancelled. Undecodable messages are logged and
// committed so they do not block the partition.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return eris.Wrap(err, "failed to fetch news message")
		}

		news, err := decodeMessage(msg.Value)
		if err != nil {
			logging.Errorw(ctx, "Dropping malformed news message",
				"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			if c.metrics != nil {
				c.metrics.NewsRejected.Inc()
			}
		} else {
			c.store.Upsert(news, c.clock.Now())
			if c.metrics != nil {
				c.metrics.NewsIngested.WithLabelValues("kafka").Add(float64(len(news)))
				c.metrics.NewsIncidents.Set(float64(c.store.Len()))
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return eris.Wrap(err, "failed to commit news message")
		}
	}
}

// decodeMessage accepts either a single item or a feed document
func decodeMessage(value []byte) ([]incident.News, error) {
	var feed Feed
	if err := json.Unmarshal(value, &feed); err == nil && feed.Items != nil {
		news, rejected := convertItems(feed.Items)
		if len(news) == 0 && len(rejected) > 0 {
			return nil, rejected[0]
		}
		return news, nil
	}

	var item Item
	if err := json.Unmarshal(value, &item); err != nil {
		return nil, eris.Wrap(err, "failed to decode news message")
	}
	n, err := item.ToNews()
	if err != nil {
		return nil, err
	}
	return []incident.News{n}, nil
}
