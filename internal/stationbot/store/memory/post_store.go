package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
)

// PostStore is an in-memory append-only log of published posts.
// It is intended for use in tests and dev environments.
type PostStore struct {
	mu    sync.Mutex
	posts []store.PostRecord
}

func NewPostStore() *PostStore {
	return &PostStore{}
}

func (s *PostStore) RecordPost(_ context.Context, rec store.PostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, rec)
	return nil
}

// Posts returns a copy of all recorded posts.  Test-only helper.
func (s *PostStore) Posts() []store.PostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PostRecord, len(s.posts))
	copy(out, s.posts)
	return out
}
