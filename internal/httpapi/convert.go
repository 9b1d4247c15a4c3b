package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

type healthResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ── Stations ─────────────────────────────────────────────────────────────────

type stationJSON struct {
	ID                string     `json:"station_id"`
	Name              string     `json:"name"`
	ShortName         string     `json:"short_name,omitempty"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	TotalDocks        int        `json:"total_docks"`
	IsElectrified     bool       `json:"is_electrified"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastElectrifiedAt *time.Time `json:"last_electrified_at,omitempty"`
}

func stationToWire(r types.StationRecord) stationJSON {
	return stationJSON{
		ID:                r.ID,
		Name:              r.Name,
		ShortName:         r.ShortName,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		TotalDocks:        r.TotalDocks,
		IsElectrified:     r.IsElectrified,
		FirstSeenAt:       r.FirstSeenAt.UTC(),
		LastElectrifiedAt: r.LastElectrifiedAt,
	}
}

// ── Runs ─────────────────────────────────────────────────────────────────────

type statusJSON struct {
	Runs       int       `json:"runs"`
	Failures   int       `json:"failed_runs"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
	LastRun    runJSON   `json:"last_run"`
}

type runJSON struct {
	RunID               string  `json:"run_id"`
	StartedAt           string  `json:"started_at"`
	DurationSeconds     float64 `json:"duration_s"`
	TestMode            bool    `json:"test_mode"`
	Fetched             int     `json:"fetched"`
	Invalid             int     `json:"invalid"`
	NewDetected         int     `json:"new_detected"`
	ElectrifiedDetected int     `json:"electrified_detected"`
	Deferred            int     `json:"deferred"`
	Succeeded           int     `json:"succeeded"`
	Failed              int     `json:"failed"`
	Silent              int     `json:"silent"`
	Committed           int     `json:"committed"`
}

func statusToWire(s RunSnapshot) statusJSON {
	out := statusJSON{
		Runs:       s.Runs,
		Failures:   s.FailedRuns,
		FinishedAt: s.FinishedAt.UTC(),
		LastRun: runJSON{
			RunID:               s.Report.RunID,
			StartedAt:           s.Report.StartedAt.UTC().Format(time.RFC3339),
			DurationSeconds:     s.Report.Duration.Seconds(),
			TestMode:            s.Report.TestMode,
			Fetched:             s.Report.Fetched,
			Invalid:             s.Report.Invalid,
			NewDetected:         s.Report.NewDetected,
			ElectrifiedDetected: s.Report.ElectrifiedDetected,
			Deferred:            s.Report.Deferred,
			Succeeded:           s.Report.Succeeded,
			Failed:              s.Report.Failed,
			Silent:              s.Report.Silent,
			Committed:           s.Report.Committed,
		},
	}
	if s.LastErr != nil {
		out.Error = s.LastErr.Error()
	}
	return out
}
