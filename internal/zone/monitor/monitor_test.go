package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liquidity/internal/platform/kafka"
	"liquidity/internal/zone/status"
)

func testMonitor() *Monitor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func record(t *testing.T, summary status.Summary) *kafka.Message {
	t.Helper()
	payload, err := json.Marshal(summary)
	require.NoError(t, err)
	return &kafka.Message{Topic: "zone-status", Key: []byte(summary.ZoneID), Value: payload}
}

func TestHandleUpsertsByZoneID(t *testing.T) {
	m := testMonitor()
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, record(t, status.Summary{ZoneID: "z1", Origin: "node-1", PublishedAt: 1})))
	require.NoError(t, m.Handle(ctx, record(t, status.Summary{ZoneID: "z2", Origin: "node-2", PublishedAt: 2})))
	require.Equal(t, 2, m.ActiveZoneCount())

	// A newer summary for the same zone replaces, not duplicates.
	require.NoError(t, m.Handle(ctx, record(t, status.Summary{ZoneID: "z1", Origin: "node-3", PublishedAt: 3})))
	zones := m.ActiveZones()
	require.Len(t, zones, 2)
	require.Equal(t, "z1", zones[0].ZoneID)
	require.Equal(t, "node-3", zones[0].Origin)
}

func TestHandleSkipsMalformedRecords(t *testing.T) {
	m := testMonitor()
	err := m.Handle(context.Background(), &kafka.Message{Topic: "zone-status", Value: []byte("{not json")})
	require.NoError(t, err, "a malformed record must not stop the consumer")
	require.Zero(t, m.ActiveZoneCount())
}

func TestStaleEntriesExpire(t *testing.T) {
	m := testMonitor()
	m.expiry = 50 * time.Millisecond

	require.NoError(t, m.Handle(context.Background(), record(t, status.Summary{ZoneID: "z1"})))
	require.Equal(t, 1, m.ActiveZoneCount())

	require.Eventually(t, func() bool {
		return m.ActiveZoneCount() == 0
	}, time.Second, 10*time.Millisecond)
}
