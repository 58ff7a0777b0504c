// Package sharding routes commands to per-zone validators. Zone ids hash onto
// a fixed shard ring; within this process the router guarantees at most one
// live validator per zone, spawning lazily and evicting on stop.
package sharding

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/platform/metrics"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/state"
	"liquidity/internal/zone/status"
	"liquidity/internal/zone/validator"
)

// ShardID returns the shard a zone id hashes onto.
func ShardID(zoneID domain.ZoneID) int {
	h := fnv.New32a()
	h.Write([]byte(zoneID))
	return int(h.Sum32() % config.MaxNumberOfShards)
}

// Router spawns and caches validators. It is safe for concurrent use.
type Router struct {
	cfg       validator.Config
	journal   journal.Journal
	snapshots journal.SnapshotStore
	publisher status.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	validators map[domain.ZoneID]*validator.Validator
	closed     bool
}

func NewRouter(
	cfg validator.Config,
	store journal.Journal,
	snapshots journal.SnapshotStore,
	publisher status.Publisher,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Router {
	return &Router{
		cfg:        cfg,
		journal:    store,
		snapshots:  snapshots,
		publisher:  publisher,
		logger:     logger,
		metrics:    m,
		validators: make(map[domain.ZoneID]*validator.Validator),
	}
}

// HandleCommand routes the envelope to its zone's validator, spawning one if
// needed. A command that races a passivating validator is retried once
// against a fresh instance; redelivery is idempotent so the retry is safe.
func (r *Router) HandleCommand(ctx context.Context, env protocol.ZoneCommandEnvelope, client validator.Client) (protocol.ZoneResponseEnvelope, error) {
	for attempt := 0; ; attempt++ {
		v, err := r.validatorFor(ctx, env.ZoneID)
		if err != nil {
			return protocol.ZoneResponseEnvelope{}, err
		}
		response, err := v.HandleCommand(ctx, env, client)
		if errors.Is(err, validator.ErrStopped) && attempt == 0 {
			continue
		}
		return response, err
	}
}

// State returns a copy of a zone's state if a validator is live, without
// spawning one.
func (r *Router) State(ctx context.Context, zoneID domain.ZoneID) (*state.State, bool, error) {
	r.mu.Lock()
	v, ok := r.validators[zoneID]
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	st, err := v.State(ctx)
	if errors.Is(err, validator.ErrStopped) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// ActiveZones lists the zones with a live validator in this process.
func (r *Router) ActiveZones() []domain.ZoneID {
	r.mu.Lock()
	defer r.mu.Unlock()
	zones := make([]domain.ZoneID, 0, len(r.validators))
	for id := range r.validators {
		zones = append(zones, id)
	}
	return zones
}

// StopAll stops every live validator and refuses further spawns. Used on
// process shutdown.
func (r *Router) StopAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*validator.Validator, 0, len(r.validators))
	for _, v := range r.validators {
		live = append(live, v)
	}
	r.mu.Unlock()

	var firstErr error
	for _, v := range live {
		if err := v.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) validatorFor(ctx context.Context, zoneID domain.ZoneID) (*validator.Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, validator.ErrStopped
	}
	if v, ok := r.validators[zoneID]; ok {
		return v, nil
	}

	cfg := r.cfg
	cfg.OnStop = func() { r.evict(zoneID) }
	v, err := validator.New(ctx, zoneID, ShardID(zoneID), cfg, r.journal, r.snapshots, r.publisher, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}
	r.validators[zoneID] = v
	r.logger.Info("zone validator spawned", "zone_id", string(zoneID), "shard_id", ShardID(zoneID))
	return v, nil
}

// evict removes a stopped validator so the next command spawns a fresh one.
// The identity check guards against evicting a replacement that was spawned
// while the old instance was still draining.
func (r *Router) evict(zoneID domain.ZoneID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.validators[zoneID]; ok {
		select {
		case <-v.Done():
			delete(r.validators, zoneID)
		default:
		}
	}
}
