package service

import (
	"context"
	"fmt"
)

type SeedReport struct {
	Fetched  int
	Invalid  int
	Inserted int
	Existing int
}

// Seed records every station in the feed that is not stored yet, without
// posting. It is meant for the first deployment against an empty store.
func (r *Runner) Seed(ctx context.Context) (SeedReport, error) {
	var run RunReport
	batch, err := r.fetchStations(ctx, r.logger, &run)
	if err != nil {
		return SeedReport{}, err
	}
	rep := SeedReport{Fetched: run.Fetched, Invalid: run.Invalid}

	stored, err := r.stations.All(ctx)
	if err != nil {
		return rep, fmt.Errorf("load stored stations: %w", err)
	}
	known := make(map[string]struct{}, len(stored))
	for _, st := range stored {
		known[st.ID] = struct{}{}
	}

	now := r.now()
	for _, st := range batch {
		if _, ok := known[st.ID]; ok {
			rep.Existing++
			continue
		}
		st.FirstSeenAt = now
		if err := r.stations.Upsert(ctx, st); err != nil {
			return rep, fmt.Errorf("seed station %s: %w", st.ID, err)
		}
		known[st.ID] = struct{}{}
		rep.Inserted++
	}

	r.logger.Info().
		Int("fetched", rep.Fetched).
		Int("invalid", rep.Invalid).
		Int("inserted", rep.Inserted).
		Int("existing", rep.Existing).
		Msg("seed completed")
	return rep, nil
}
