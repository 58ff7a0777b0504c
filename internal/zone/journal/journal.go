// Package journal provides the append-only event store backing every zone
// validator, plus the optional snapshot store. Implementations are
// interface-driven so the in-memory version can stand in for Postgres in
// tests and single-node deployments.
package journal

import (
	"context"
	"time"

	pkgerrors "liquidity/pkg/errors"
)

// Envelope is one stored journal record. SequenceNr is assigned by the store,
// starts at 1 and is strictly monotonic per persistence id.
type Envelope struct {
	PersistenceID string
	SequenceNr    int64
	Payload       []byte
	CreatedAt     time.Time
}

// Snapshot is a point-in-time state capture at a journal sequence number.
type Snapshot struct {
	PersistenceID string
	SequenceNr    int64
	Payload       []byte
	CreatedAt     time.Time
}

// Journal is the durability boundary. It guarantees per-persistence-id strict
// ordering; nothing more.
type Journal interface {
	// Append stores a payload and returns its assigned sequence number.
	Append(ctx context.Context, persistenceID string, payload []byte) (int64, error)
	// Read streams envelopes with SequenceNr > fromSequenceNr in order.
	Read(ctx context.Context, persistenceID string, fromSequenceNr int64, fn func(Envelope) error) error
	// Ping reports whether the store is reachable; used by readiness checks.
	Ping(ctx context.Context) error
}

// SnapshotStore persists at most the latest useful snapshot per persistence
// id. Correctness never depends on it.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	// Latest returns the newest snapshot, or ErrNoSnapshot.
	Latest(ctx context.Context, persistenceID string) (Snapshot, error)
}

var (
	ErrNoSnapshot = pkgerrors.New(pkgerrors.CodeNotFound, "no snapshot stored")
)
