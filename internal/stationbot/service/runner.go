package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// Fetcher returns the full current feed in feed order.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]types.RawRecord, error)
}

type MapRenderer interface {
	RenderMap(ctx context.Context, stations []types.StationRecord, highlight types.StationRecord) ([]byte, error)
}

// StreetViewClient reports ok=false on any failure.
type StreetViewClient interface {
	FetchImage(ctx context.Context, lat, lon float64) ([]byte, bool)
}

// Poster publishes a post and returns its identifier.
type Poster interface {
	Post(ctx context.Context, text string, images []types.Image) (string, error)
}

// RunConfig is fixed for the lifetime of a Runner.
type RunConfig struct {
	Posting              bool // publish at all; false commits events silently
	TestMode             bool // compose and log posts without publishing
	LimitNewStationPosts int  // 0 = unlimited
	StreetViewImages     bool
	ForceStationID       string
	SystemName           string
	Bounds               Bounds
}

type Dependencies struct {
	Logger     zerolog.Logger
	Fetcher    Fetcher
	Stations   store.StationStore
	Posts      store.PostStore  // optional audit log
	Renderer   MapRenderer      // optional
	StreetView StreetViewClient // optional
	Poster     Poster           // may be nil in test mode or with posting off
	Now        func() time.Time
}

// EventFailure describes an event that could not be published.
type EventFailure struct {
	StationID string
	Kind      types.EventKind
	Stage     string
	Err       error
}

// RunReport summarizes one run. It is returned even when the run fails.
type RunReport struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	TestMode  bool
	Forced    bool

	Fetched             int
	Invalid             int
	NewDetected         int
	ElectrifiedDetected int
	Deferred            int // new stations held back by the post limit

	Attempted     int
	Succeeded     int
	Failed        int
	Silent        int // committed without posting
	Committed     int
	ImageFailures int

	Failures []EventFailure
}

// Runner drives fetch, detect, post and commit for one pass over the feed.
type Runner struct {
	cfg        RunConfig
	logger     zerolog.Logger
	fetcher    Fetcher
	stations   store.StationStore
	posts      store.PostStore
	renderer   MapRenderer
	streetView StreetViewClient
	poster     Poster
	normalizer Normalizer
	detector   *Detector
	now        func() time.Time
}

func NewRunner(cfg RunConfig, d Dependencies) *Runner {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		cfg:        cfg,
		logger:     d.Logger,
		fetcher:    d.Fetcher,
		stations:   d.Stations,
		posts:      d.Posts,
		renderer:   d.Renderer,
		streetView: d.StreetView,
		poster:     d.Poster,
		normalizer: Normalizer{Bounds: cfg.Bounds},
		detector:   NewDetector(d.Logger),
		now:        now,
	}
}

// Run performs one pass. Only a feed failure, a forced station that is not
// in the feed, or a failed commit abort the run; every other per-event
// failure is logged and counted.
func (r *Runner) Run(ctx context.Context) (RunReport, error) {
	started := r.now()
	report := RunReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
		TestMode:  r.cfg.TestMode,
		Forced:    r.cfg.ForceStationID != "",
	}
	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	finish := func(err error) (RunReport, error) {
		report.Duration = r.now().Sub(started)
		return report, err
	}

	batch, err := r.fetchStations(ctx, logger, &report)
	if err != nil {
		logger.Error().Err(err).Msg("run aborted")
		return finish(err)
	}

	if n, err := r.stations.Count(ctx); err != nil {
		logger.Debug().Err(err).Msg("count stored stations")
	} else if n == 0 && !report.Forced {
		logger.Warn().Msg("station store is empty; every station will be treated as new (run seed first)")
	}

	events, err := r.selectEvents(ctx, logger, batch, &report)
	if err != nil {
		logger.Error().Err(err).Msg("run aborted")
		return finish(err)
	}

	for _, ev := range events {
		if err := r.process(ctx, logger, report.RunID, batch, ev, &report); err != nil {
			logger.Error().Err(err).Str("station_id", ev.Station.ID).Str("stage", StageCommit).Msg("run aborted")
			return finish(err)
		}
	}

	logSummary(logger, report)
	return finish(nil)
}

func (r *Runner) fetchStations(ctx context.Context, logger zerolog.Logger, report *RunReport) ([]types.StationRecord, error) {
	logger.Info().Msg("fetching station data")

	raw, err := r.fetcher.FetchAll(ctx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	report.Fetched = len(raw)

	batch := make([]types.StationRecord, 0, len(raw))
	for _, rec := range raw {
		st, err := r.normalizer.Normalize(rec)
		if err != nil {
			report.Invalid++
			var ve *ValidationError
			ev := logger.Warn()
			if errors.As(err, &ve) {
				ev = ev.Str("station_id", ve.StationID).Str("field", ve.Field)
			}
			ev.Str("stage", StageValidate).Err(err).Msg("skipping invalid record")
			continue
		}
		batch = append(batch, st)
	}
	return batch, nil
}

func (r *Runner) selectEvents(ctx context.Context, logger zerolog.Logger, batch []types.StationRecord, report *RunReport) ([]types.Event, error) {
	if id := strings.TrimSpace(r.cfg.ForceStationID); id != "" {
		ev, err := r.forcedEvent(ctx, id, batch)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("station_id", id).Str("kind", string(ev.Kind)).Msg("processing forced station")
		return []types.Event{ev}, nil
	}

	events, err := r.detector.Detect(ctx, batch, r.stations)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		switch ev.Kind {
		case types.EventNewStation:
			report.NewDetected++
		case types.EventElectrified:
			report.ElectrifiedDetected++
		}
	}

	events, report.Deferred = LimitNewStations(events, r.cfg.LimitNewStationPosts)
	if report.Deferred > 0 {
		logger.Info().
			Int("deferred", report.Deferred).
			Int("limit", r.cfg.LimitNewStationPosts).
			Msg("new station posts capped; remaining stations will be picked up by a later run")
	}
	return events, nil
}

func (r *Runner) forcedEvent(ctx context.Context, id string, batch []types.StationRecord) (types.Event, error) {
	for _, st := range batch {
		if st.ID != id {
			continue
		}
		ev := types.Event{Kind: types.EventNewStation, Station: st, Forced: true}
		if st.IsElectrified {
			ev.Kind = types.EventElectrified
		}
		prev, ok, err := r.stations.Get(ctx, id)
		if err != nil {
			return types.Event{}, fmt.Errorf("load forced station %s: %w", id, err)
		}
		if ok {
			ev.Previous = &prev
		}
		return ev, nil
	}
	return types.Event{}, fmt.Errorf("%w: %s", ErrForcedStationNotFound, id)
}

// LimitNewStations keeps at most limit new-station events, in order.
// Electrified events always pass. limit <= 0 means no cap.
func LimitNewStations(events []types.Event, limit int) ([]types.Event, int) {
	if limit <= 0 {
		return events, 0
	}
	kept := make([]types.Event, 0, len(events))
	news, deferred := 0, 0
	for _, ev := range events {
		if ev.Kind == types.EventNewStation {
			if news >= limit {
				deferred++
				continue
			}
			news++
		}
		kept = append(kept, ev)
	}
	return kept, deferred
}

// process publishes one event and commits it. The returned error is fatal
// to the run; publish failures are recorded in report instead.
func (r *Runner) process(ctx context.Context, logger zerolog.Logger, runID string, batch []types.StationRecord, ev types.Event, report *RunReport) error {
	logger = logger.With().Str("station_id", ev.Station.ID).Str("kind", string(ev.Kind)).Logger()

	if !r.cfg.Posting && !r.cfg.TestMode {
		if err := r.commit(ctx, ev); err != nil {
			return err
		}
		report.Silent++
		report.Committed++
		logger.Info().Msg("posting disabled; station recorded without a post")
		return nil
	}

	images := r.attachments(ctx, logger, batch, ev, report)
	text := ComposePost(r.cfg.SystemName, ev)
	report.Attempted++

	var postURI string
	if r.cfg.TestMode {
		logger.Info().
			Str("text", text).
			Int("images", len(images)).
			Msg("post preview (test mode)")
	} else {
		uri, err := r.publish(ctx, text, images)
		if err != nil {
			perr := &PostError{StationID: ev.Station.ID, Err: err}
			report.Failed++
			report.Failures = append(report.Failures, EventFailure{
				StationID: ev.Station.ID,
				Kind:      ev.Kind,
				Stage:     StagePost,
				Err:       perr,
			})
			logger.Error().Err(perr).Str("stage", StagePost).Msg("post failed; station left for a later run")
			return nil
		}
		postURI = uri
		logger.Info().Str("post_uri", uri).Msg("posted")
	}
	report.Succeeded++

	if err := r.commit(ctx, ev); err != nil {
		return err
	}
	report.Committed++

	if postURI != "" && r.posts != nil {
		if err := r.posts.RecordPost(ctx, store.PostRecord{
			StationID: ev.Station.ID,
			RunID:     runID,
			Kind:      ev.Kind,
			PostURI:   postURI,
			PostedAt:  r.now(),
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to record post in audit log")
		}
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, text string, images []types.Image) (string, error) {
	if r.poster == nil {
		return "", errors.New("no poster configured")
	}
	return r.poster.Post(ctx, text, images)
}

// attachments renders the map and fetches the street view photo in
// parallel. The map always comes first.
func (r *Runner) attachments(ctx context.Context, logger zerolog.Logger, batch []types.StationRecord, ev types.Event, report *RunReport) []types.Image {
	st := ev.Station

	var (
		wg              conc.WaitGroup
		mapData, svData []byte
		mapErr          error
		wantSV, svOK    bool
	)
	if r.renderer != nil {
		wg.Go(func() {
			mapData, mapErr = r.renderer.RenderMap(ctx, batch, st)
		})
	}
	if r.cfg.StreetViewImages && r.streetView != nil {
		wantSV = true
		wg.Go(func() {
			svData, svOK = r.streetView.FetchImage(ctx, st.Latitude, st.Longitude)
		})
	}
	wg.Wait()

	var images []types.Image
	if r.renderer != nil {
		if mapErr != nil {
			report.ImageFailures++
			logger.Warn().Err(&RenderError{StationID: st.ID, Err: mapErr}).Str("stage", StageRender).Msg("posting without map")
		} else {
			images = append(images, types.Image{Data: mapData, MIMEType: "image/png", Alt: mapAltText(r.cfg.SystemName, st)})
		}
	}
	if wantSV {
		if !svOK {
			report.ImageFailures++
			logger.Warn().Str("stage", StageStreetView).Msg("posting without street view photo")
		} else {
			images = append(images, types.Image{Data: svData, MIMEType: "image/jpeg", Alt: streetViewAltText(st)})
		}
	}
	return images
}

// commit writes the post-event state of the station.
func (r *Runner) commit(ctx context.Context, ev types.Event) error {
	now := r.now()

	var rec types.StationRecord
	if ev.Previous == nil {
		rec = ev.Station
		rec.FirstSeenAt = now
		rec.LastElectrifiedAt = nil
	} else {
		rec = *ev.Previous
		if ev.Station.IsElectrified && !rec.IsElectrified {
			rec.IsElectrified = true
			rec.LastElectrifiedAt = &now
		}
	}

	if err := r.stations.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("commit station %s: %w", rec.ID, err)
	}
	return nil
}

func logSummary(logger zerolog.Logger, report RunReport) {
	var changes []string
	if report.NewDetected > 0 {
		changes = append(changes, fmt.Sprintf("%d new", report.NewDetected))
	}
	if report.ElectrifiedDetected > 0 {
		changes = append(changes, fmt.Sprintf("%d electrified", report.ElectrifiedDetected))
	}

	ev := logger.Info().
		Int("fetched", report.Fetched).
		Int("invalid", report.Invalid).
		Int("deferred", report.Deferred).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("silent", report.Silent).
		Int("committed", report.Committed)

	switch {
	case report.Forced:
		ev.Msg("forced run completed")
	case len(changes) > 0:
		ev.Msgf("changes detected: %s stations", strings.Join(changes, ", "))
	default:
		ev.Msg("no changes detected")
	}
}
