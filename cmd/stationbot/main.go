package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/BrandonDHaskell/stationbot/internal/config"
	"github.com/BrandonDHaskell/stationbot/internal/httpapi"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/service"
)

func main() {
	if os.Getenv("STATIONBOT_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("STATIONBOT_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:  "stationbot",
		Usage: "watch a bike-share feed and post new and electrified stations to Bluesky",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to config.yaml",
				Value:   config.DefaultPath,
				EnvVars: []string{"STATIONBOT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			watchCommand(),
			seedCommand(),
			showCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal().Err(err).Send()
	}
}

// loadConfig reads the file named by --config. The default path may be
// absent; an explicitly named file must exist.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "fetch the feed once, post any changes and exit",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "test-mode", Usage: "log posts instead of publishing them"},
			&cli.StringFlag{Name: "force-station", Usage: "post about this station id regardless of stored state"},
			&cli.IntFlag{Name: "limit-new", Usage: "maximum new-station posts this run (0 = unlimited)", Value: -1},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.Bool("test-mode") {
				cfg.Features.TestMode = true
			}
			if id := c.String("force-station"); id != "" {
				cfg.Features.ForceStationID = id
			}
			if n := c.Int("limit-new"); n >= 0 {
				cfg.Features.LimitNewStationPosts = n
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			a, err := openApp(c.Context, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.newRunner()
			if err != nil {
				return err
			}
			report, err := runner.Run(c.Context)
			a.observe(report, err)
			return err
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "run on a fixed interval until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Usage: "time between runs (default from config, 15m)"},
			&cli.BoolFlag{Name: "test-mode", Usage: "log posts instead of publishing them"},
			&cli.StringFlag{Name: "listen", Usage: "serve health, status and metrics on this address"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if addr := c.String("listen"); addr != "" {
				cfg.StatusAddr = addr
			}
			if c.IsSet("interval") {
				cfg.WatchInterval = config.Duration(c.Duration("interval"))
			}
			if c.Bool("test-mode") {
				cfg.Features.TestMode = true
			}
			if cfg.Features.ForceStationID != "" {
				return errors.New("force_station_id cannot be used with watch; use run --force-station")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			a, err := openApp(c.Context, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.newRunner()
			if err != nil {
				return err
			}

			tracker := httpapi.NewRunTracker()
			ctx, stop := context.WithCancel(c.Context)
			defer stop()

			var srv *httpapi.Server
			if cfg.StatusAddr != "" {
				srv = httpapi.NewServer(httpapi.Dependencies{
					Logger:     log.Logger,
					Addr:       cfg.StatusAddr,
					Stations:   a.stations,
					Tracker:    tracker,
					Gatherer:   a.metrics.Registry,
					StaleAfter: 3 * cfg.WatchInterval.Std(),
				})
				go func() {
					log.Info().Str("addr", cfg.StatusAddr).Msg("status server listening")
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("status server error")
						stop()
					}
				}()
			}

			sched := service.NewScheduler(runner.Run, service.SchedulerConfig{
				Interval: cfg.WatchInterval.Std(),
				Observe: func(report service.RunReport, err error) {
					a.observe(report, err)
					tracker.Observe(report, err)
				},
			}, log.Logger)
			sched.Start(ctx)

			<-ctx.Done()
			log.Info().Msg("shutting down")
			sched.Stop()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "record every station currently in the feed without posting",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg.Features.BlueskyPosting = false
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			a, err := openApp(c.Context, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.newRunner()
			if err != nil {
				return err
			}
			_, err = runner.Seed(c.Context)
			return err
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "print the stored record for a station",
		ArgsUsage: "STATION_ID",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("show: station id required")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			a, err := openApp(c.Context, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, ok, err := a.stations.Get(c.Context, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("station %s not found", id)
			}
			_, err = pretty.Println(rec)
			return err
		},
	}
}
