package sharding

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/platform/metrics"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/status"
	"liquidity/internal/zone/validator"
)

func testRouter(t *testing.T, cfg validator.Config) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(cfg,
		journal.NewInMemoryJournal(),
		journal.NewInMemorySnapshotStore(),
		status.NopPublisher{},
		logger,
		metrics.New(prometheus.NewRegistry()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.StopAll(ctx)
	})
	return r
}

func testKey(t *testing.T) domain.PublicKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return der
}

func TestShardIDIsStableAndBounded(t *testing.T) {
	for _, id := range []domain.ZoneID{"a", "b", domain.NewZoneID(), domain.NewZoneID()} {
		shard := ShardID(id)
		require.GreaterOrEqual(t, shard, 0)
		require.Less(t, shard, config.MaxNumberOfShards)
		require.Equal(t, shard, ShardID(id), "shard assignment must be deterministic")
	}
}

func TestRouterSpawnsOneValidatorPerZone(t *testing.T) {
	r := testRouter(t, validator.Config{})
	key := testKey(t)

	zoneID := domain.NewZoneID()
	envelope := protocol.ZoneCommandEnvelope{
		PublicKey: key,
		ZoneID:    zoneID,
		Command:   protocol.CreateZoneCommand{EquityOwnerPublicKey: key},
	}
	_, err := r.HandleCommand(context.Background(), envelope, nil)
	require.NoError(t, err)

	require.Equal(t, []domain.ZoneID{zoneID}, r.ActiveZones())

	// A second command reuses the same instance.
	name := "renamed"
	_, err = r.HandleCommand(context.Background(), protocol.ZoneCommandEnvelope{
		PublicKey: key,
		ZoneID:    zoneID,
		Command:   protocol.ChangeZoneNameCommand{Name: &name},
	}, nil)
	require.NoError(t, err)
	require.Len(t, r.ActiveZones(), 1)
}

func TestRouterEvictsPassivatedValidator(t *testing.T) {
	r := testRouter(t, validator.Config{PassivationTimeout: 50 * time.Millisecond})
	key := testKey(t)

	zoneID := domain.NewZoneID()
	_, err := r.HandleCommand(context.Background(), protocol.ZoneCommandEnvelope{
		PublicKey: key,
		ZoneID:    zoneID,
		Command:   protocol.CreateZoneCommand{EquityOwnerPublicKey: key},
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(r.ActiveZones()) == 0
	}, 2*time.Second, 20*time.Millisecond, "passivated validator must be evicted")

	// The next command respawns against the same journal: state survives.
	response, err := r.HandleCommand(context.Background(), protocol.ZoneCommandEnvelope{
		PublicKey: key,
		ZoneID:    zoneID,
		Command:   protocol.CreateZoneCommand{EquityOwnerPublicKey: key},
	}, nil)
	require.NoError(t, err)
	created, ok := response.Response.(protocol.CreateZoneResponse)
	require.True(t, ok)
	require.Equal(t, zoneID, created.Zone.ID)
}

func TestRouterRefusesAfterStopAll(t *testing.T) {
	r := testRouter(t, validator.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.StopAll(ctx))

	_, err := r.HandleCommand(context.Background(), protocol.ZoneCommandEnvelope{
		ZoneID:  domain.NewZoneID(),
		Command: protocol.CreateZoneCommand{},
	}, nil)
	require.ErrorIs(t, err, validator.ErrStopped)
}

func TestRouterStateForUnknownZone(t *testing.T) {
	r := testRouter(t, validator.Config{})
	_, live, err := r.State(context.Background(), domain.NewZoneID())
	require.NoError(t, err)
	require.False(t, live)
}
