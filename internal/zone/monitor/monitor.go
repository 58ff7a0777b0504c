// Package monitor maintains a cluster-wide view of active zones by consuming
// the zone-status topic. The view is advisory and eventually consistent; a
// summary that stops arriving ages out.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"liquidity/internal/platform/config"
	"liquidity/internal/platform/kafka"
	"liquidity/internal/platform/redis"
	"liquidity/internal/zone/status"
)

// Monitor implements kafka.Handler for the zone-status topic. Summaries are
// upserted by zone id; entries expire after two missed publish intervals.
// When Redis is configured each summary is also written through with a TTL,
// giving other consumers a queryable view.
type Monitor struct {
	logger *slog.Logger
	redis  *redis.Client
	expiry time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	summary status.Summary
	seen    time.Time
}

func New(logger *slog.Logger, redisClient *redis.Client) *Monitor {
	return &Monitor{
		logger:  logger,
		redis:   redisClient,
		expiry:  2 * config.StatusPublishInterval,
		entries: make(map[string]entry),
	}
}

// Handle consumes one summary record. Malformed records are logged and
// skipped, not fatal: one bad producer must not stall the view.
func (m *Monitor) Handle(ctx context.Context, msg *kafka.Message) error {
	var summary status.Summary
	if err := json.Unmarshal(msg.Value, &summary); err != nil {
		m.logger.Warn("discarding malformed zone summary",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}

	m.mu.Lock()
	m.entries[summary.ZoneID] = entry{summary: summary, seen: time.Now()}
	m.mu.Unlock()

	if m.redis != nil {
		if err := m.redis.Set(ctx, "zone-summary:"+summary.ZoneID, msg.Value, m.expiry).Err(); err != nil {
			m.logger.Warn("redis write-through failed", "zone_id", summary.ZoneID, "error", err)
		}
	}
	return nil
}

// ActiveZones returns the unexpired summaries, newest first.
func (m *Monitor) ActiveZones() []status.Summary {
	cutoff := time.Now().Add(-m.expiry)

	m.mu.Lock()
	for id, e := range m.entries {
		if e.seen.Before(cutoff) {
			delete(m.entries, id)
		}
	}
	summaries := make([]status.Summary, 0, len(m.entries))
	for _, e := range m.entries {
		summaries = append(summaries, e.summary)
	}
	m.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].PublishedAt > summaries[j].PublishedAt
	})
	return summaries
}

// ActiveZoneCount reports how many zones are currently unexpired.
func (m *Monitor) ActiveZoneCount() int {
	return len(m.ActiveZones())
}
