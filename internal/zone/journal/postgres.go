package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	pkgerrors "liquidity/pkg/errors"
)

// Schema for the journal tables. Applied idempotently at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS zone_events (
	persistence_id TEXT   NOT NULL,
	sequence_nr    BIGINT NOT NULL,
	payload        BYTEA  NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (persistence_id, sequence_nr)
);

CREATE TABLE IF NOT EXISTS zone_snapshots (
	persistence_id TEXT   NOT NULL,
	sequence_nr    BIGINT NOT NULL,
	payload        BYTEA  NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (persistence_id)
);
`

// PostgresJournal stores events in an append-only table. Sequence numbers are
// assigned inside the insert; the primary key turns a lost race between two
// writers (which sharding should prevent) into a unique violation instead of
// silent interleaving.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the journal tables if they do not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Append(ctx context.Context, persistenceID string, payload []byte) (int64, error) {
	const query = `
		INSERT INTO zone_events (persistence_id, sequence_nr, payload)
		SELECT $1, COALESCE(MAX(sequence_nr), 0) + 1, $2
		FROM zone_events WHERE persistence_id = $1
		RETURNING sequence_nr
	`
	var seq int64
	err := j.db.QueryRowContext(ctx, query, persistenceID, payload).Scan(&seq)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, pkgerrors.New(pkgerrors.CodeUnavailable, "journal append conflict")
		}
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

func (j *PostgresJournal) Read(ctx context.Context, persistenceID string, fromSequenceNr int64, fn func(Envelope) error) error {
	const query = `
		SELECT sequence_nr, payload, created_at
		FROM zone_events
		WHERE persistence_id = $1 AND sequence_nr > $2
		ORDER BY sequence_nr
	`
	rows, err := j.db.QueryContext(ctx, query, persistenceID, fromSequenceNr)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		env := Envelope{PersistenceID: persistenceID}
		var createdAt time.Time
		if err := rows.Scan(&env.SequenceNr, &env.Payload, &createdAt); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		env.CreatedAt = createdAt
		if err := fn(env); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (j *PostgresJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// PostgresSnapshotStore keeps only the latest snapshot per persistence id.
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	const query = `
		INSERT INTO zone_snapshots (persistence_id, sequence_nr, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (persistence_id)
		DO UPDATE SET sequence_nr = EXCLUDED.sequence_nr,
		              payload = EXCLUDED.payload,
		              created_at = now()
	`
	if _, err := s.db.ExecContext(ctx, query, snapshot.PersistenceID, snapshot.SequenceNr, snapshot.Payload); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Latest(ctx context.Context, persistenceID string) (Snapshot, error) {
	const query = `
		SELECT sequence_nr, payload, created_at
		FROM zone_snapshots
		WHERE persistence_id = $1
	`
	snapshot := Snapshot{PersistenceID: persistenceID}
	err := s.db.QueryRowContext(ctx, query, persistenceID).
		Scan(&snapshot.SequenceNr, &snapshot.Payload, &snapshot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot, nil
}
