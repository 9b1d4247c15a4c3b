package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/stationbot/internal/bluesky"
	"github.com/BrandonDHaskell/stationbot/internal/config"
	"github.com/BrandonDHaskell/stationbot/internal/db"
	"github.com/BrandonDHaskell/stationbot/internal/feed"
	"github.com/BrandonDHaskell/stationbot/internal/metrics"
	"github.com/BrandonDHaskell/stationbot/internal/render"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/service"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store/sqlite"
	"github.com/BrandonDHaskell/stationbot/internal/streetview"
)

// app holds the long-lived resources shared by every command.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	conn     *sql.DB
	writer   *db.Worker
	stations *sqlite.StationStore
	posts    *sqlite.PostStore
	metrics  *metrics.Metrics
}

func openApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	writer := db.NewWorker(conn)

	logger.Debug().Str("db_path", cfg.DBPath).Msg("database ready")

	return &app{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		writer:   writer,
		stations: sqlite.NewStationStore(conn, writer),
		posts:    sqlite.NewPostStore(conn, writer),
		metrics:  metrics.New(),
	}, nil
}

func (a *app) Close() {
	a.writer.Close()
	if err := a.conn.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close database")
	}
}

func (a *app) newRunner() (*service.Runner, error) {
	cfg := a.cfg

	fetcher := feed.New(feed.Config{
		URL:        cfg.FeedURL,
		PageSize:   cfg.API.PageSize,
		MaxRetries: cfg.API.MaxRetries,
		Timeout:    cfg.API.Timeouts.Fetch.Std(),
		AppToken:   cfg.API.AppToken,
	}, feed.WithLogger(a.logger.With().Str("component", "feed").Logger()))

	street := streetview.New(cfg.GoogleKey, cfg.API.Timeouts.StreetView.Std(),
		streetview.WithLogger(a.logger.With().Str("component", "streetview").Logger()))
	if cfg.Features.StreetViewImages && cfg.GoogleKey == "" {
		a.logger.Warn().Msg("GOOGLE_MAPS_API_KEY not set; posts will not include street view photos")
	}

	var poster service.Poster
	if cfg.PostsForReal() {
		client, err := bluesky.New(bluesky.Config{
			Host:        cfg.Bluesky.Host,
			Handle:      cfg.Bluesky.Handle,
			AppPassword: cfg.Bluesky.AppPassword,
			Timeout:     cfg.API.Timeouts.Bluesky.Std(),
		}, bluesky.WithLogger(a.logger.With().Str("component", "bluesky").Logger()))
		if err != nil {
			return nil, err
		}
		poster = client
	}

	return service.NewRunner(service.RunConfig{
		Posting:              cfg.Features.BlueskyPosting,
		TestMode:             cfg.Features.TestMode,
		LimitNewStationPosts: cfg.Features.LimitNewStationPosts,
		StreetViewImages:     cfg.Features.StreetViewImages,
		ForceStationID:       cfg.Features.ForceStationID,
		SystemName:           cfg.SystemName,
		Bounds: service.Bounds{
			MinLat: cfg.Bounds.MinLat,
			MaxLat: cfg.Bounds.MaxLat,
			MinLon: cfg.Bounds.MinLon,
			MaxLon: cfg.Bounds.MaxLon,
		},
	}, service.Dependencies{
		Logger:     a.logger,
		Fetcher:    fetcher,
		Stations:   a.stations,
		Posts:      a.posts,
		Renderer:   render.NewMapRenderer(),
		StreetView: street,
		Poster:     poster,
	}), nil
}

// observe feeds a finished run into metrics and refreshes the textfile.
func (a *app) observe(report service.RunReport, err error) {
	a.metrics.ObserveRun(report, err)
	if werr := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); werr != nil {
		a.logger.Warn().Err(werr).Str("path", a.cfg.MetricsTextfile).Msg("write metrics textfile")
	}
}
