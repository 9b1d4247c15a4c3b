// Package streetview fetches street-level photos from the Google Street View
// Static API.
package streetview

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/streetview"
	DefaultSize    = "600x400"
	DefaultTimeout = 10 * time.Second

	// Street View images are a few hundred KB; anything larger is not a photo.
	maxImageBytes = 5 << 20
)

type Client struct {
	baseURL    string
	apiKey     string
	size       string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		size:       DefaultSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchImage returns the JPEG for the given point. ok is false when there is
// no key, no imagery, or the request failed; the cause is logged.
func (c *Client) FetchImage(ctx context.Context, lat, lon float64) ([]byte, bool) {
	if c.apiKey == "" {
		c.logger.Debug().Msg("street view disabled: no api key")
		return nil, false
	}

	q := url.Values{}
	q.Set("size", c.size)
	q.Set("location", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("key", c.apiKey)
	// 404 instead of a grey placeholder when no imagery exists.
	q.Set("return_error_code", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("build street view request")
		return nil, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error would echo the key
		c.logger.Warn().Str("error", redact(err.Error(), c.apiKey)).Msg("street view request failed")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("street view image unavailable")
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		c.logger.Warn().Err(err).Msg("read street view image")
		return nil, false
	}
	if len(data) == 0 || len(data) > maxImageBytes {
		c.logger.Warn().Int("bytes", len(data)).Msg("street view image has unexpected size")
		return nil, false
	}
	return data, true
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "REDACTED")
}
