package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// coordEpsilon is roughly 10 cm at Chicago's latitude.
const coordEpsilon = 1e-6

// Detector classifies a fetched batch against stored state.
type Detector struct {
	logger zerolog.Logger
}

func NewDetector(logger zerolog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect returns one event per station that is new or newly electrified, in
// the order the stations appear in fresh.
func (d *Detector) Detect(ctx context.Context, fresh []types.StationRecord, st store.StationStore) ([]types.Event, error) {
	stored, err := st.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored stations: %w", err)
	}
	known := make(map[string]types.StationRecord, len(stored))
	for _, rec := range stored {
		known[rec.ID] = rec
	}

	seen := make(map[string]struct{}, len(fresh))
	var events []types.Event

	for _, cur := range fresh {
		if _, dup := seen[cur.ID]; dup {
			d.logger.Debug().Str("station_id", cur.ID).Msg("duplicate station in batch ignored")
			continue
		}
		seen[cur.ID] = struct{}{}

		prev, ok := known[cur.ID]
		if !ok {
			events = append(events, types.Event{Kind: types.EventNewStation, Station: cur})
			continue
		}

		if drifted(prev, cur) {
			d.logger.Warn().
				Str("station_id", cur.ID).
				Str("stored_name", prev.Name).
				Str("feed_name", cur.Name).
				Str("stored_short_name", prev.ShortName).
				Str("feed_short_name", cur.ShortName).
				Float64("stored_lat", prev.Latitude).
				Float64("feed_lat", cur.Latitude).
				Float64("stored_lon", prev.Longitude).
				Float64("feed_lon", cur.Longitude).
				Msg("station differs from first observation; keeping stored values")
		}

		if !prev.IsElectrified && cur.IsElectrified {
			p := prev
			events = append(events, types.Event{Kind: types.EventElectrified, Station: cur, Previous: &p})
		}
	}

	return events, nil
}

func drifted(prev, cur types.StationRecord) bool {
	return baseName(prev.Name) != baseName(cur.Name) ||
		baseShortName(prev.ShortName) != baseShortName(cur.ShortName) ||
		math.Abs(prev.Latitude-cur.Latitude) > coordEpsilon ||
		math.Abs(prev.Longitude-cur.Longitude) > coordEpsilon
}

// baseName strips the electrification marker so that "Foo" and "Foo*" match.
func baseName(name string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(name), "*"))
}

// baseShortName drops the "charging" marker in any case, along with the
// separators left around it.
func baseShortName(short string) string {
	lower := strings.ToLower(short)
	if i := strings.Index(lower, "charging"); i >= 0 {
		short = short[:i] + short[i+len("charging"):]
	}
	return strings.Trim(short, " -_/()")
}
