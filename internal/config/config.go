package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath          = "config.yaml"
	DefaultFeedURL       = "https://data.cityofchicago.org/resource/bbyy-e7gq.csv"
	DefaultSystemName    = "Divvy"
	DefaultDBPath        = "./data/stations.db"
	DefaultWatchInterval = 15 * time.Minute
)

type Config struct {
	FeedURL         string   `yaml:"feed_url"`
	SystemName      string   `yaml:"system_name"`
	DBPath          string   `yaml:"db_path"`
	MetricsTextfile string   `yaml:"metrics_textfile"`
	StatusAddr      string   `yaml:"status_addr"` // watch only; empty disables
	WatchInterval   Duration `yaml:"watch_interval"`
	Bounds          Bounds   `yaml:"bounds"`

	API      API      `yaml:"api"`
	Features Features `yaml:"features"`

	// Secrets are only read from the environment.
	Bluesky   BlueskyCredentials `yaml:"-"`
	GoogleKey string             `yaml:"-"`
}

type API struct {
	PageSize   int      `yaml:"page_size"`
	MaxRetries int      `yaml:"max_retries"`
	AppToken   string   `yaml:"app_token"`
	Timeouts   Timeouts `yaml:"timeouts"`
}

type Timeouts struct {
	Fetch      Duration `yaml:"fetch"`
	StreetView Duration `yaml:"streetview"`
	Bluesky    Duration `yaml:"bluesky"`
}

type Features struct {
	BlueskyPosting       bool   `yaml:"bluesky_posting"`
	TestMode             bool   `yaml:"test_mode"`
	LimitNewStationPosts int    `yaml:"limit_new_station_posts"` // 0 = unlimited
	StreetViewImages     bool   `yaml:"streetview_images"`
	ForceStationID       string `yaml:"force_station_id"`
}

// Bounds limits accepted coordinates. All zero disables the check.
type Bounds struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

func (b Bounds) IsZero() bool { return b == Bounds{} }

type BlueskyCredentials struct {
	Host        string
	Handle      string
	AppPassword string
}

// Duration accepts either a Go duration string ("90s") or a bare number of
// seconds, which is how timeouts have always been written in config.yaml.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in configuration for the Chicago Divvy feed.
func Default() Config {
	return Config{
		FeedURL:       DefaultFeedURL,
		SystemName:    DefaultSystemName,
		DBPath:        DefaultDBPath,
		WatchInterval: Duration(DefaultWatchInterval),
		Bounds: Bounds{
			MinLat: 41.6, MaxLat: 42.1,
			MinLon: -87.9, MaxLon: -87.5,
		},
		API: API{
			PageSize:   1000,
			MaxRetries: 3,
			Timeouts: Timeouts{
				Fetch:      Duration(30 * time.Second),
				StreetView: Duration(10 * time.Second),
				Bluesky:    Duration(30 * time.Second),
			},
		},
		Features: Features{
			BlueskyPosting:   true,
			StreetViewImages: true,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.FeedURL = getenvDefault("STATIONBOT_FEED_URL", cfg.FeedURL)
	cfg.SystemName = getenvDefault("STATIONBOT_SYSTEM_NAME", cfg.SystemName)
	cfg.DBPath = getenvDefault("STATIONBOT_DB_PATH", cfg.DBPath)
	cfg.MetricsTextfile = getenvDefault("STATIONBOT_METRICS_TEXTFILE", cfg.MetricsTextfile)
	cfg.StatusAddr = getenvDefault("STATIONBOT_STATUS_ADDR", cfg.StatusAddr)
	cfg.WatchInterval = getenvDuration("STATIONBOT_WATCH_INTERVAL", cfg.WatchInterval)

	cfg.API.PageSize = getenvInt("STATIONBOT_PAGE_SIZE", cfg.API.PageSize)
	cfg.API.MaxRetries = getenvInt("STATIONBOT_MAX_RETRIES", cfg.API.MaxRetries)
	cfg.API.AppToken = getenvDefault("SODA_APP_TOKEN", cfg.API.AppToken)

	cfg.Features.BlueskyPosting = getenvBool("STATIONBOT_BLUESKY_POSTING", cfg.Features.BlueskyPosting)
	cfg.Features.TestMode = getenvBool("STATIONBOT_TEST_MODE", cfg.Features.TestMode)
	cfg.Features.StreetViewImages = getenvBool("STATIONBOT_STREETVIEW_IMAGES", cfg.Features.StreetViewImages)
	cfg.Features.LimitNewStationPosts = getenvInt("STATIONBOT_LIMIT_NEW_STATION_POSTS", cfg.Features.LimitNewStationPosts)
	cfg.Features.ForceStationID = strings.TrimSpace(getenvDefault("STATIONBOT_FORCE_STATION_ID", cfg.Features.ForceStationID))

	cfg.Bluesky = BlueskyCredentials{
		Host:        getenvDefault("BLUESKY_HOST", "https://bsky.social"),
		Handle:      strings.TrimSpace(os.Getenv("BLUESKY_HANDLE")),
		AppPassword: strings.TrimSpace(os.Getenv("BLUESKY_APP_PASSWORD")),
	}
	cfg.GoogleKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))
}

// PostsForReal reports whether runs will call the Bluesky API.
func (c Config) PostsForReal() bool {
	return c.Features.BlueskyPosting && !c.Features.TestMode
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.FeedURL) == "" {
		errs = append(errs, errors.New("feed_url is required"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("api.page_size must be positive, got %d", c.API.PageSize))
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries))
	}
	if c.API.Timeouts.Fetch < 0 || c.API.Timeouts.StreetView < 0 || c.API.Timeouts.Bluesky < 0 {
		errs = append(errs, errors.New("api.timeouts must not be negative"))
	}
	if c.Features.LimitNewStationPosts < 0 {
		errs = append(errs, fmt.Errorf("features.limit_new_station_posts must not be negative, got %d", c.Features.LimitNewStationPosts))
	}
	if c.WatchInterval.Std() <= 0 {
		errs = append(errs, errors.New("watch_interval must be positive"))
	}
	if !c.Bounds.IsZero() && (c.Bounds.MinLat >= c.Bounds.MaxLat || c.Bounds.MinLon >= c.Bounds.MaxLon) {
		errs = append(errs, errors.New("bounds: min must be below max"))
	}
	if c.PostsForReal() && (c.Bluesky.Handle == "" || c.Bluesky.AppPassword == "") {
		errs = append(errs, errors.New("BLUESKY_HANDLE and BLUESKY_APP_PASSWORD are required when posting is enabled"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func getenvDuration(key string, def Duration) Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return Duration(d)
}
