// Package bluesky posts to Bluesky through the AT Protocol XRPC API: it logs
// in with an app password, uploads image blobs and creates app.bsky.feed.post
// records.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

const (
	DefaultHost    = "https://bsky.social"
	DefaultTimeout = 30 * time.Second

	// app.bsky.embed.images accepts at most four images.
	MaxImages = 4

	collectionPost = "app.bsky.feed.post"
	embedImages    = "app.bsky.embed.images"
)

var ErrMissingCredentials = errors.New("bluesky: handle and app password are required")

// APIError is an XRPC error response.
type APIError struct {
	Method     string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("bluesky %s: status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("bluesky %s: %s: %s", e.Method, e.Code, e.Message)
}

func (e *APIError) expiredToken() bool {
	return e.Code == "ExpiredToken" || e.Code == "InvalidToken"
}

// apiError turns an xrpc failure into an *APIError. Transport errors are
// wrapped unchanged.
func apiError(method string, err error) error {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return fmt.Errorf("bluesky %s: %w", method, err)
	}
	out := &APIError{Method: method, StatusCode: xe.StatusCode}
	var body *xrpc.XRPCError
	if errors.As(xe.Wrapped, &body) {
		out.Code, out.Message = body.ErrStr, body.Message
	}
	return out
}

type Config struct {
	Host        string
	Handle      string
	AppPassword string
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *session
}

type session struct {
	auth      *xrpc.AuthInfo
	expiresAt time.Time // zero when the token carries no exp claim
}

// renewBefore is how close to expiry a cached session is replaced.
const renewBefore = time.Minute

// tokenExpiry reads the exp claim without verifying the signature; the
// server remains the authority on validity.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

type Option func(*Client)

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

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New validates credentials but does not contact the server; the session is
// created on the first Post.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Handle == "" || cfg.AppPassword == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) newXRPC(auth *xrpc.AuthInfo) *xrpc.Client {
	return &xrpc.Client{Client: c.httpClient, Host: c.cfg.Host, Auth: auth}
}

// Post publishes text with up to MaxImages attachments and returns the
// at:// URI of the new record. An expired session is renewed once.
func (c *Client) Post(ctx context.Context, text string, images []types.Image) (string, error) {
	uri, err := c.post(ctx, text, images)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.expiredToken() {
		c.logger.Info().Msg("bluesky session expired; logging in again")
		c.resetSession()
		uri, err = c.post(ctx, text, images)
	}
	return uri, err
}

func (c *Client) post(ctx context.Context, text string, images []types.Image) (string, error) {
	sess, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	xc := c.newXRPC(sess.auth)

	if len(images) > MaxImages {
		c.logger.Warn().Int("images", len(images)).Int("max", MaxImages).Msg("dropping extra attachments")
		images = images[:MaxImages]
	}

	var embedded []*bsky.EmbedImages_Image
	for i, img := range images {
		blob, err := c.uploadBlob(ctx, xc, img)
		if err != nil {
			return "", fmt.Errorf("upload image %d: %w", i, err)
		}
		embedded = append(embedded, &bsky.EmbedImages_Image{Alt: img.Alt, Image: blob})
	}

	rec := &bsky.FeedPost{
		LexiconTypeID: collectionPost,
		Text:          text,
		CreatedAt:     c.now().UTC().Format(time.RFC3339Nano),
		Langs:         []string{"en"},
	}
	if len(embedded) > 0 {
		rec.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{LexiconTypeID: embedImages, Images: embedded},
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, xc, &atproto.RepoCreateRecord_Input{
		Repo:       sess.auth.Did,
		Collection: collectionPost,
		Record:     &lexutil.LexiconTypeDecoder{Val: rec},
	})
	if err != nil {
		return "", apiError("com.atproto.repo.createRecord", err)
	}
	if out.Uri == "" {
		return "", errors.New("bluesky createRecord: empty uri in response")
	}
	return out.Uri, nil
}

func (c *Client) ensureSession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		exp := c.session.expiresAt
		if exp.IsZero() || c.now().Add(renewBefore).Before(exp) {
			return c.session, nil
		}
		c.logger.Debug().Time("expires_at", exp).Msg("bluesky session about to expire; renewing")
	}

	out, err := atproto.ServerCreateSession(ctx, c.newXRPC(nil), &atproto.ServerCreateSession_Input{
		Identifier: c.cfg.Handle,
		Password:   c.cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", apiError("com.atproto.server.createSession", err))
	}
	if out.AccessJwt == "" || out.Did == "" {
		return nil, errors.New("bluesky createSession: incomplete session in response")
	}
	c.logger.Info().Str("handle", out.Handle).Str("did", out.Did).Msg("bluesky session created")
	c.session = &session{
		auth: &xrpc.AuthInfo{
			AccessJwt:  out.AccessJwt,
			RefreshJwt: out.RefreshJwt,
			Did:        out.Did,
			Handle:     out.Handle,
		},
		expiresAt: tokenExpiry(out.AccessJwt),
	}
	return c.session, nil
}

func (c *Client) resetSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// uploadBlob sends the image bytes with their own content type; the
// generated RepoUploadBlob would label every upload */*.
func (c *Client) uploadBlob(ctx context.Context, xc *xrpc.Client, img types.Image) (*lexutil.LexBlob, error) {
	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	var out atproto.RepoUploadBlob_Output
	err := xc.Do(ctx, xrpc.Procedure, mime, "com.atproto.repo.uploadBlob", nil, bytes.NewReader(img.Data), &out)
	if err != nil {
		return nil, apiError("com.atproto.repo.uploadBlob", err)
	}
	if out.Blob == nil {
		return nil, errors.New("bluesky uploadBlob: empty blob in response")
	}
	return out.Blob, nil
}
