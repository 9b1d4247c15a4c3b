// Package feed reads the station inventory from a Socrata (SODA) CSV endpoint.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

const (
	DefaultURL        = "https://data.cityofchicago.org/resource/bbyy-e7gq.csv"
	DefaultPageSize   = 1000
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

type Config struct {
	URL        string
	PageSize   int
	MaxRetries int
	Timeout    time.Duration

	// AppToken is sent as X-App-Token when set. Socrata throttles
	// anonymous clients more aggressively.
	AppToken string
}

// FetchError is returned when a page could not be read after all retries.
type FetchError struct {
	Offset   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page at offset %d failed after %d attempt(s): %v", e.Offset, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a non-200 response from the feed.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("feed returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("feed returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackOff replaces the per-page retry policy. The factory is called once
// per page.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zerolog.Nop(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAll pages through the dataset until a short page is returned and
// yields every row in feed order.
func (c *Client) FetchAll(ctx context.Context) ([]types.RawRecord, error) {
	var all []types.RawRecord
	for offset := 0; ; offset += c.cfg.PageSize {
		page, err := c.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		c.logger.Debug().
			Int("offset", offset).
			Int("rows", len(page)).
			Msg("fetched feed page")

		if len(page) < c.cfg.PageSize {
			break
		}
	}

	c.logger.Info().Int("rows", len(all)).Msg("feed fetched")
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, offset int) ([]types.RawRecord, error) {
	attempts := 0
	var page []types.RawRecord

	op := func() error {
		attempts++
		rows, err := c.get(ctx, offset)
		if err != nil {
			return classify(ctx, err)
		}
		page = rows
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Err(err).
			Int("offset", offset).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("feed request failed; retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, &FetchError{Offset: offset, Attempts: attempts, Err: err}
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, offset int) ([]types.RawRecord, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("$limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("$offset", strconv.Itoa(offset))
	q.Set("$order", ":id")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")
	if c.cfg.AppToken != "" {
		req.Header.Set("X-App-Token", c.cfg.AppToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	rows, err := gocsv.CSVToMaps(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode feed csv: %w", err)
	}

	out := make([]types.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.RawRecord(row))
	}
	return out, nil
}

// classify marks errors that retrying cannot fix as permanent.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return backoff.Permanent(err)
	}
	return err
}
