package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// ErrIntegrity is matched by every *IntegrityError.
var ErrIntegrity = errors.New("station store integrity violation")

// IntegrityError reports an attempt to rewrite a field that is fixed once a
// station has been stored. It always indicates a logic defect in the caller.
type IntegrityError struct {
	StationID string
	Field     string
	Stored    any
	Incoming  any
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("station %s: field %s is immutable (stored=%v incoming=%v)",
		e.StationID, e.Field, e.Stored, e.Incoming)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// StationStore persists the last observed state of every station.
type StationStore interface {
	Get(ctx context.Context, id string) (types.StationRecord, bool, error)
	All(ctx context.Context) ([]types.StationRecord, error)
	Upsert(ctx context.Context, rec types.StationRecord) error
	Count(ctx context.Context) (int, error)
}

// CheckTransition validates replacing prev with next. Only the
// electrification flag (false->true) may change, and LastElectrifiedAt may be
// set only together with that transition.
func CheckTransition(prev, next types.StationRecord) error {
	fail := func(field string, stored, incoming any) error {
		return &IntegrityError{StationID: prev.ID, Field: field, Stored: stored, Incoming: incoming}
	}

	switch {
	case prev.ID != next.ID:
		return fail("id", prev.ID, next.ID)
	case prev.Name != next.Name:
		return fail("name", prev.Name, next.Name)
	case prev.ShortName != next.ShortName:
		return fail("short_name", prev.ShortName, next.ShortName)
	case prev.Latitude != next.Latitude:
		return fail("latitude", prev.Latitude, next.Latitude)
	case prev.Longitude != next.Longitude:
		return fail("longitude", prev.Longitude, next.Longitude)
	case prev.TotalDocks != next.TotalDocks:
		return fail("total_docks", prev.TotalDocks, next.TotalDocks)
	case !sameInstant(prev.FirstSeenAt, next.FirstSeenAt):
		return fail("first_seen_at", prev.FirstSeenAt, next.FirstSeenAt)
	case prev.IsElectrified && !next.IsElectrified:
		return fail("is_electrified", true, false)
	}

	if prev.LastElectrifiedAt != nil {
		if next.LastElectrifiedAt == nil || !sameInstant(*prev.LastElectrifiedAt, *next.LastElectrifiedAt) {
			return fail("last_electrified_at", *prev.LastElectrifiedAt, next.LastElectrifiedAt)
		}
	} else if next.LastElectrifiedAt != nil && (prev.IsElectrified || !next.IsElectrified) {
		// The timestamp is only stamped by the false->true transition.
		return fail("last_electrified_at", nil, *next.LastElectrifiedAt)
	}
	return nil
}

// Stores keep millisecond precision.
func sameInstant(a, b time.Time) bool {
	return a.UTC().UnixMilli() == b.UTC().UnixMilli()
}
