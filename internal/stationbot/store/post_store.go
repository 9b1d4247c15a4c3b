package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// PostRecord captures one published post for the audit log.
type PostRecord struct {
	StationID string
	RunID     string
	Kind      types.EventKind
	PostURI   string
	PostedAt  time.Time
}

// PostStore persists published posts as an append-only audit log.
type PostStore interface {
	RecordPost(ctx context.Context, rec PostRecord) error
}
