package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/stationbot/internal/db"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
)

type PostStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPostStore(db *sql.DB, writer *dbpkg.Worker) *PostStore {
	return &PostStore{db: db, writer: writer}
}

func (s *PostStore) RecordPost(ctx context.Context, rec store.PostRecord) error {
	if rec.PostedAt.IsZero() {
		rec.PostedAt = time.Now().UTC()
	}
	postedMs := rec.PostedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO station_posts(station_id, run_id, kind, post_uri, posted_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.StationID, rec.RunID, string(rec.Kind), rec.PostURI, postedMs); err != nil {
			return fmt.Errorf("RecordPost insert: %w", err)
		}
		return nil
	})
}
