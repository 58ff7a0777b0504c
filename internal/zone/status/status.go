// Package status carries periodic active-zone summaries to the cluster-wide
// zone-status topic. Summaries are advisory: the journal, not this topic, is
// the source of truth.
package status

import (
	"context"
	"encoding/json"
	"log/slog"

	"liquidity/internal/domain"
	"liquidity/internal/platform/kafka"
)

// Summary is one UpsertActiveZoneSummary message, JSON-encoded on the topic
// and keyed by zone id so the topic can be compacted.
type Summary struct {
	ZoneID           string               `json:"zone_id"`
	ShardID          int                  `json:"shard_id"`
	Origin           string               `json:"origin"`
	Name             *string              `json:"name,omitempty"`
	Metadata         []byte               `json:"metadata,omitempty"`
	Members          []domain.Member      `json:"members"`
	Accounts         []domain.Account     `json:"accounts"`
	Transactions     []domain.Transaction `json:"transactions"`
	ConnectedClients []domain.PublicKey   `json:"connected_clients"`
	PublishedAt      int64                `json:"published_at"`
}

// Publisher emits summaries. Implementations must not block the caller; a
// lost summary is superseded by the next one.
type Publisher interface {
	Publish(ctx context.Context, summary Summary)
}

// KafkaPublisher produces summaries to the zone-status topic.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(producer *kafka.Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, summary Summary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		p.logger.Error("marshal zone summary", "zone_id", summary.ZoneID, "error", err)
		return
	}
	p.producer.Produce(ctx, p.topic, []byte(summary.ZoneID), payload)
}

// NopPublisher drops summaries; used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Summary) {}
