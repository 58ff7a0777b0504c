// Package validator implements the per-zone single-writer state machine. One
// goroutine owns each zone: it validates commands, appends events to the
// journal, folds them into memory, answers the caller, and fans ordered
// notifications out to connected clients.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/platform/metrics"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/state"
	"liquidity/internal/zone/status"
	pkgerrors "liquidity/pkg/errors"
)

// Client is a connected notification recipient. Done closes when the peer
// drops, which the validator treats as an implicit QuitZone.
type Client interface {
	Handle() string
	PublicKey() domain.PublicKey
	Notify(env protocol.ZoneNotificationEnvelope)
	Done() <-chan struct{}
}

// Config tunes a validator instance. Zero values select the production
// constants; tests inject short timeouts.
type Config struct {
	Origin             string
	PassivationTimeout time.Duration
	StatusInterval     time.Duration
	SnapshotEvery      int64
	// OnStop runs after the validator goroutine exits, in that goroutine.
	// The sharding router uses it to evict the instance.
	OnStop func()
}

func (c Config) withDefaults() Config {
	if c.PassivationTimeout <= 0 {
		c.PassivationTimeout = config.PassivationTimeout
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = config.StatusPublishInterval
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = 100
	}
	return c
}

// ErrStopped is returned for commands that race a stopping validator. The
// caller retries; redelivery is idempotent.
var ErrStopped = pkgerrors.New(pkgerrors.CodeUnavailable, "zone validator stopped")

type message interface {
	isMessage()
}

type commandMessage struct {
	env    protocol.ZoneCommandEnvelope
	client Client
	reply  chan<- commandResult
}

type commandResult struct {
	envelope protocol.ZoneResponseEnvelope
	err      error
}

type disconnectMessage struct {
	handle string
}

type stateQueryMessage struct {
	reply chan<- *state.State
}

type stopMessage struct{}

func (commandMessage) isMessage()    {}
func (disconnectMessage) isMessage() {}
func (stateQueryMessage) isMessage() {}
func (stopMessage) isMessage()       {}

// Validator owns one zone. All fields below inbox are touched only by the run
// goroutine.
type Validator struct {
	zoneID    domain.ZoneID
	shardID   int
	cfg       Config
	journal   journal.Journal
	snapshots journal.SnapshotStore
	publisher status.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	inbox chan message
	done  chan struct{}

	st                 *state.State
	clients            map[string]Client
	notificationSeqNrs map[string]int64
	lastSequenceNr     int64
	eventsSinceSnap    int64
}

// New recovers the zone's state from the snapshot store and journal, then
// starts the validator goroutine. A recovery failure is returned, not
// retried: the caller decides whether to respawn.
func New(
	ctx context.Context,
	zoneID domain.ZoneID,
	shardID int,
	cfg Config,
	store journal.Journal,
	snapshots journal.SnapshotStore,
	publisher status.Publisher,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Validator, error) {
	cfg = cfg.withDefaults()
	if publisher == nil {
		publisher = status.NopPublisher{}
	}
	v := &Validator{
		zoneID:             zoneID,
		shardID:            shardID,
		cfg:                cfg,
		journal:            store,
		snapshots:          snapshots,
		publisher:          publisher,
		logger:             logger.With("zone_id", string(zoneID)),
		metrics:            m,
		inbox:              make(chan message, 16),
		done:               make(chan struct{}),
		clients:            make(map[string]Client),
		notificationSeqNrs: make(map[string]int64),
	}
	if err := v.recover(ctx); err != nil {
		return nil, err
	}
	go v.run()
	return v, nil
}

func (v *Validator) ZoneID() domain.ZoneID { return v.zoneID }

// Done closes when the validator has stopped for any reason.
func (v *Validator) Done() <-chan struct{} { return v.done }

// HandleCommand submits a command and waits for its response. client must be
// non-nil for JoinZone; it is ignored otherwise.
func (v *Validator) HandleCommand(ctx context.Context, env protocol.ZoneCommandEnvelope, client Client) (protocol.ZoneResponseEnvelope, error) {
	reply := make(chan commandResult, 1)
	select {
	case v.inbox <- commandMessage{env: env, client: client, reply: reply}:
	case <-v.done:
		return protocol.ZoneResponseEnvelope{}, ErrStopped
	case <-ctx.Done():
		return protocol.ZoneResponseEnvelope{}, ctx.Err()
	}
	select {
	case result := <-reply:
		return result.envelope, result.err
	case <-ctx.Done():
		return protocol.ZoneResponseEnvelope{}, ctx.Err()
	}
}

// State returns a deep copy of the current state for diagnostics.
func (v *Validator) State(ctx context.Context) (*state.State, error) {
	reply := make(chan *state.State, 1)
	select {
	case v.inbox <- stateQueryMessage{reply: reply}:
	case <-v.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop asks the validator to finish in-flight work and terminate. Used on
// shard hand-off and process shutdown.
func (v *Validator) Stop(ctx context.Context) error {
	select {
	case v.inbox <- stopMessage{}:
	case <-v.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-v.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Validator) recover(ctx context.Context) error {
	persistenceID := protocol.PersistenceID(v.zoneID)
	v.st = state.New()

	if v.snapshots != nil {
		snap, err := v.snapshots.Latest(ctx, persistenceID)
		switch {
		case err == nil:
			decoded, err := protocol.UnmarshalSnapshot(snap.Payload)
			if err != nil {
				return fmt.Errorf("decode snapshot for %s: %w", persistenceID, err)
			}
			v.st = state.FromSnapshot(decoded)
			v.lastSequenceNr = snap.SequenceNr
		case errors.Is(err, journal.ErrNoSnapshot):
		default:
			return fmt.Errorf("load snapshot for %s: %w", persistenceID, err)
		}
	}

	err := v.journal.Read(ctx, persistenceID, v.lastSequenceNr, func(env journal.Envelope) error {
		decoded, err := protocol.UnmarshalEventEnvelope(env.Payload)
		if err != nil {
			return fmt.Errorf("decode event %d: %w", env.SequenceNr, err)
		}
		v.st.Apply(decoded)
		v.lastSequenceNr = env.SequenceNr
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay %s: %w", persistenceID, err)
	}

	// Journalled join/quit events refer to connections of a previous
	// incarnation; connection tracking starts empty.
	v.st.ClearConnectedClients()
	return nil
}

func (v *Validator) run() {
	v.metrics.ActiveZones.Inc()
	defer func() {
		v.metrics.ActiveZones.Dec()
		close(v.done)
		if v.cfg.OnStop != nil {
			v.cfg.OnStop()
		}
	}()

	passivation := newPassivationTimer(v.cfg.PassivationTimeout)
	passivation.Start()
	statusTicker := time.NewTicker(v.cfg.StatusInterval)
	defer statusTicker.Stop()

	for {
		select {
		case msg := <-v.inbox:
			switch m := msg.(type) {
			case commandMessage:
				if stop := v.handleCommand(m, passivation); stop {
					return
				}
			case disconnectMessage:
				if stop := v.handleDisconnect(m.handle, passivation); stop {
					return
				}
			case stateQueryMessage:
				m.reply <- v.st.Clone()
			case stopMessage:
				v.logger.Info("zone validator stopping on request")
				return
			}
		case <-passivation.C():
			if passivation.Active() && len(v.clients) == 0 {
				v.logger.Info("zone validator passivated", "last_sequence_nr", v.lastSequenceNr)
				v.metrics.Passivations.Inc()
				return
			}
		case <-statusTicker.C:
			v.publishStatus()
		}
	}
}

// watch turns the closing of a client's done channel into an inbox message.
func (v *Validator) watch(c Client) {
	select {
	case <-c.Done():
		select {
		case v.inbox <- disconnectMessage{handle: c.Handle()}:
		case <-v.done:
		}
	case <-v.done:
	}
}

func (v *Validator) publishStatus() {
	if v.st.Zone == nil {
		return
	}
	zone := v.st.Zone
	summary := status.Summary{
		ZoneID:      string(v.zoneID),
		ShardID:     v.shardID,
		Origin:      v.cfg.Origin,
		Name:        zone.Name,
		Metadata:    zone.Metadata,
		PublishedAt: time.Now().UnixMilli(),
	}
	for _, m := range zone.Members {
		summary.Members = append(summary.Members, m)
	}
	for _, a := range zone.Accounts {
		summary.Accounts = append(summary.Accounts, a)
	}
	for _, t := range zone.Transactions {
		summary.Transactions = append(summary.Transactions, t)
	}
	for _, handle := range v.st.ClientOrder {
		summary.ConnectedClients = append(summary.ConnectedClients, v.st.ConnectedClients[handle])
	}
	v.publisher.Publish(context.Background(), summary)
}
