package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// StationStore keeps station state in process memory. It is intended for
// tests and dry runs; nothing survives a restart.
type StationStore struct {
	mu    sync.RWMutex
	order []string
	data  map[string]types.StationRecord
}

func NewStationStore() *StationStore {
	return &StationStore{
		data: make(map[string]types.StationRecord),
	}
}

func (s *StationStore) Get(_ context.Context, id string) (types.StationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	if !ok {
		return types.StationRecord{}, false, nil
	}
	return clone(rec), true, nil
}

// All returns stations in insertion order.
func (s *StationStore) All(_ context.Context) ([]types.StationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.StationRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.data[id]))
	}
	return out, nil
}

func (s *StationStore) Upsert(_ context.Context, rec types.StationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data[rec.ID]
	if !ok {
		if rec.FirstSeenAt.IsZero() {
			rec.FirstSeenAt = time.Now().UTC()
		}
		s.order = append(s.order, rec.ID)
		s.data[rec.ID] = clone(rec)
		return nil
	}
	if err := store.CheckTransition(prev, rec); err != nil {
		return err
	}
	s.data[rec.ID] = clone(rec)
	return nil
}

func (s *StationStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func clone(rec types.StationRecord) types.StationRecord {
	if rec.LastElectrifiedAt != nil {
		t := *rec.LastElectrifiedAt
		rec.LastElectrifiedAt = &t
	}
	return rec
}
