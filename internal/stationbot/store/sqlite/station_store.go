package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/stationbot/internal/db"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

const stationColumns = `station_id, name, short_name, latitude, longitude, total_docks,
  is_electrified, first_seen_at_ms, last_electrified_at_ms`

type StationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStationStore(db *sql.DB, writer *dbpkg.Worker) *StationStore {
	return &StationStore{db: db, writer: writer}
}

func (s *StationStore) Get(ctx context.Context, id string) (types.StationRecord, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.StationRecord{}, false, nil
	}

	rec, err := scanStation(s.db.QueryRowContext(ctx,
		`SELECT `+stationColumns+` FROM stations WHERE station_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.StationRecord{}, false, nil
	}
	if err != nil {
		return types.StationRecord{}, false, fmt.Errorf("Get station %s: %w", id, err)
	}
	return rec, true, nil
}

// All returns every stored station, oldest first.
func (s *StationStore) All(ctx context.Context) ([]types.StationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stationColumns+` FROM stations ORDER BY first_seen_at_ms, station_id;`)
	if err != nil {
		return nil, fmt.Errorf("All query: %w", err)
	}
	defer rows.Close()

	var out []types.StationRecord
	for rows.Next() {
		rec, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("All scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("All rows: %w", err)
	}
	return out, nil
}

// Upsert inserts a new station or applies the electrification transition to
// an existing one. The read and the write share one transaction.
func (s *StationStore) Upsert(ctx context.Context, rec types.StationRecord) error {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return errors.New("Upsert: station id is required")
	}

	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		prev, err := scanStation(tx.QueryRowContext(ctx,
			`SELECT `+stationColumns+` FROM stations WHERE station_id = ?;`, rec.ID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return insertStation(ctx, tx, rec, nowMs)
		case err != nil:
			return fmt.Errorf("Upsert select: %w", err)
		}

		if err := store.CheckTransition(prev, rec); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE stations
SET is_electrified = ?,
    last_electrified_at_ms = ?,
    updated_at_ms = ?
WHERE station_id = ?;
`, boolInt(rec.IsElectrified), msOrNil(rec.LastElectrifiedAt), nowMs, rec.ID); err != nil {
			return fmt.Errorf("Upsert update: %w", err)
		}
		return nil
	})
}

func (s *StationStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stations;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

func insertStation(ctx context.Context, tx *sql.Tx, rec types.StationRecord, nowMs int64) error {
	firstSeen := nowMs
	if !rec.FirstSeenAt.IsZero() {
		firstSeen = rec.FirstSeenAt.UTC().UnixMilli()
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO stations(
  station_id, name, short_name, latitude, longitude, total_docks,
  is_electrified, first_seen_at_ms, last_electrified_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		rec.ID, rec.Name, rec.ShortName, rec.Latitude, rec.Longitude, rec.TotalDocks,
		boolInt(rec.IsElectrified), firstSeen, msOrNil(rec.LastElectrifiedAt), nowMs,
	); err != nil {
		return fmt.Errorf("Upsert insert: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (types.StationRecord, error) {
	var (
		rec         types.StationRecord
		electrified int
		firstSeenMs int64
		lastElecMs  sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.ShortName, &rec.Latitude, &rec.Longitude, &rec.TotalDocks,
		&electrified, &firstSeenMs, &lastElecMs,
	); err != nil {
		return types.StationRecord{}, err
	}

	rec.IsElectrified = electrified == 1
	rec.FirstSeenAt = time.UnixMilli(firstSeenMs).UTC()
	if lastElecMs.Valid {
		t := time.UnixMilli(lastElecMs.Int64).UTC()
		rec.LastElectrifiedAt = &t
	}
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}
