package journal

import (
	"context"
	"sync"
	"time"
)

// In-memory implementations keep single-node deployments and tests free of
// external dependencies. They intentionally favor clarity over performance.
type InMemoryJournal struct {
	mu      sync.RWMutex
	streams map[string][]Envelope
}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{streams: make(map[string][]Envelope)}
}

func (j *InMemoryJournal) Append(_ context.Context, persistenceID string, payload []byte) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	stream := j.streams[persistenceID]
	seq := int64(len(stream)) + 1
	stored := make([]byte, len(payload))
	copy(stored, payload)
	j.streams[persistenceID] = append(stream, Envelope{
		PersistenceID: persistenceID,
		SequenceNr:    seq,
		Payload:       stored,
		CreatedAt:     time.Now(),
	})
	return seq, nil
}

func (j *InMemoryJournal) Read(_ context.Context, persistenceID string, fromSequenceNr int64, fn func(Envelope) error) error {
	j.mu.RLock()
	stream := make([]Envelope, len(j.streams[persistenceID]))
	copy(stream, j.streams[persistenceID])
	j.mu.RUnlock()

	for _, env := range stream {
		if env.SequenceNr <= fromSequenceNr {
			continue
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	return nil
}

func (j *InMemoryJournal) Ping(context.Context) error {
	return nil
}

type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: make(map[string]Snapshot)}
}

func (s *InMemorySnapshotStore) Save(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	s.snapshots[snapshot.PersistenceID] = snapshot
	return nil
}

func (s *InMemorySnapshotStore) Latest(_ context.Context, persistenceID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snapshot, ok := s.snapshots[persistenceID]; ok {
		return snapshot, nil
	}
	return Snapshot{}, ErrNoSnapshot
}
