package bluesky_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BrandonDHaskell/stationbot/internal/bluesky"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// blobCID is a well-formed CIDv1 (raw, sha2-256) as returned by uploadBlob.
const blobCID = "bafkreibme22gw2h7y2h7tg2fhqotaqjucnbc24deqo72b6mkl2egezxhvy"

// fakePDS implements the three XRPC procedures the client uses.
type fakePDS struct {
	mu       sync.Mutex
	logins   int
	uploads  []string // content types
	records  []map[string]any
	token    string
	expireAt int // createRecord call number that reports ExpiredToken
	creates  int
	failWith int
}

func (p *fakePDS) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["identifier"] != "divvybot.bsky.social" || in["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		p.mu.Lock()
		p.logins++
		p.token = fmt.Sprintf("jwt-%d", p.logins)
		tok := p.token
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessJwt": tok, "refreshJwt": "r", "did": "did:plc:abc", "handle": "divvybot.bsky.social",
		})
	})

	mux.HandleFunc("/xrpc/com.atproto.repo.uploadBlob", func(w http.ResponseWriter, r *http.Request) {
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.uploads = append(p.uploads, r.Header.Get("Content-Type"))
		p.mu.Unlock()
		fmt.Fprintf(w, `{"blob":{"$type":"blob","ref":{"$link":%q},"mimeType":%q,"size":%d}}`,
			blobCID, r.Header.Get("Content-Type"), len(data))
	})

	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.creates++
		n := p.creates
		p.mu.Unlock()

		if p.failWith != 0 {
			w.WriteHeader(p.failWith)
			_, _ = w.Write([]byte(`{"error":"InternalServerError","message":"boom"}`))
			return
		}
		if n == p.expireAt {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return
		}
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode createRecord: %v", err)
		}
		p.mu.Lock()
		p.records = append(p.records, in)
		idx := len(p.records)
		p.mu.Unlock()
		fmt.Fprintf(w, `{"uri":"at://did:plc:abc/app.bsky.feed.post/%d","cid":"bafyrec"}`, idx)
	})
	return mux
}

func (p *fakePDS) authorized(r *http.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+p.token
}

func newClient(t *testing.T, pds *fakePDS) *bluesky.Client {
	t.Helper()
	srv := httptest.NewServer(pds.handler(t))
	t.Cleanup(srv.Close)

	c, err := bluesky.New(bluesky.Config{
		Host:        srv.URL,
		Handle:      "divvybot.bsky.social",
		AppPassword: "app-pass",
	}, bluesky.WithClock(func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// ── Posting ──────────────────────────────────────────────────────────────────

func TestPost_WithImages(t *testing.T) {
	pds := &fakePDS{}
	c := newClient(t, pds)

	uri, err := c.Post(context.Background(), "🆕 New Divvy Station Alert!", []types.Image{
		{Data: []byte("\x89PNG"), MIMEType: "image/png", Alt: "map"},
		{Data: []byte("\xff\xd8"), MIMEType: "image/jpeg", Alt: "photo"},
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if uri != "at://did:plc:abc/app.bsky.feed.post/1" {
		t.Errorf("unexpected uri %q", uri)
	}
	if len(pds.uploads) != 2 || pds.uploads[0] != "image/png" || pds.uploads[1] != "image/jpeg" {
		t.Errorf("unexpected uploads: %v", pds.uploads)
	}

	in := pds.records[0]
	if in["repo"] != "did:plc:abc" || in["collection"] != "app.bsky.feed.post" {
		t.Errorf("unexpected createRecord input: %v", in)
	}
	rec := in["record"].(map[string]any)
	if rec["text"] != "🆕 New Divvy Station Alert!" || rec["createdAt"] != "2026-05-04T12:00:00Z" {
		t.Errorf("unexpected record: %v", rec)
	}
	embed := rec["embed"].(map[string]any)
	if embed["$type"] != "app.bsky.embed.images" {
		t.Errorf("unexpected embed type %v", embed["$type"])
	}
	imgs := embed["images"].([]any)
	if len(imgs) != 2 {
		t.Fatalf("expected 2 embedded images, got %d", len(imgs))
	}
	first := imgs[0].(map[string]any)
	if first["alt"] != "map" {
		t.Errorf("unexpected alt %v", first["alt"])
	}
	blob := first["image"].(map[string]any)
	if blob["$type"] != "blob" || blob["mimeType"] != "image/png" {
		t.Errorf("blob not passed through: %v", blob)
	}
	if ref := blob["ref"].(map[string]any); ref["$link"] != blobCID {
		t.Errorf("unexpected blob ref %v", ref)
	}
}

func TestPost_TextOnlyHasNoEmbed(t *testing.T) {
	pds := &fakePDS{}
	c := newClient(t, pds)

	if _, err := c.Post(context.Background(), "hello", nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	rec := pds.records[0]["record"].(map[string]any)
	if _, ok := rec["embed"]; ok {
		t.Error("expected no embed for a text-only post")
	}
}

func TestPost_LogsInOnce(t *testing.T) {
	pds := &fakePDS{}
	c := newClient(t, pds)

	for i := 0; i < 3; i++ {
		if _, err := c.Post(context.Background(), "post", nil); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}
	if pds.logins != 1 {
		t.Errorf("expected a single login, got %d", pds.logins)
	}
}

func TestPost_CapsImages(t *testing.T) {
	pds := &fakePDS{}
	c := newClient(t, pds)

	images := make([]types.Image, 6)
	for i := range images {
		images[i] = types.Image{Data: []byte{byte(i)}, MIMEType: "image/png"}
	}
	if _, err := c.Post(context.Background(), "many", images); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(pds.uploads) != bluesky.MaxImages {
		t.Errorf("expected %d uploads, got %d", bluesky.MaxImages, len(pds.uploads))
	}
}

// ── Errors ───────────────────────────────────────────────────────────────────

func TestPost_RenewsExpiredSession(t *testing.T) {
	pds := &fakePDS{expireAt: 2}
	c := newClient(t, pds)

	if _, err := c.Post(context.Background(), "one", nil); err != nil {
		t.Fatalf("first Post: %v", err)
	}
	uri, err := c.Post(context.Background(), "two", nil)
	if err != nil {
		t.Fatalf("second Post: %v", err)
	}
	if pds.logins != 2 {
		t.Errorf("expected re-login, got %d logins", pds.logins)
	}
	if uri == "" {
		t.Error("expected uri after renewal")
	}
}

func TestPost_ServerError(t *testing.T) {
	pds := &fakePDS{failWith: http.StatusInternalServerError}
	c := newClient(t, pds)

	_, err := c.Post(context.Background(), "x", nil)
	var apiErr *bluesky.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Code != "InternalServerError" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestPost_BadCredentials(t *testing.T) {
	pds := &fakePDS{}
	srv := httptest.NewServer(pds.handler(t))
	defer srv.Close()

	c, err := bluesky.New(bluesky.Config{Host: srv.URL, Handle: "divvybot.bsky.social", AppPassword: "wrong"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Post(context.Background(), "x", nil)
	var apiErr *bluesky.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "AuthenticationRequired" {
		t.Fatalf("expected AuthenticationRequired, got %v", err)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := bluesky.New(bluesky.Config{Handle: "x"}); !errors.Is(err, bluesky.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestPost_RenewsSessionBeforeExpiry(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	var logins int

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		logins++
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "did:plc:abc",
			ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Hour)),
		}).SignedString([]byte("pds-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accessJwt": tok, "did": "did:plc:abc", "handle": "h"})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:abc/app.bsky.feed.post/x","cid":"c"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	clock := now
	c, err := bluesky.New(bluesky.Config{Host: srv.URL, Handle: "h", AppPassword: "p"},
		bluesky.WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Post(context.Background(), "one", nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	clock = now.Add(time.Hour)
	if _, err := c.Post(context.Background(), "two", nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins != 1 {
		t.Fatalf("token still valid, expected 1 login, got %d", logins)
	}

	clock = now.Add(2*time.Hour - 30*time.Second)
	if _, err := c.Post(context.Background(), "three", nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins != 2 {
		t.Errorf("expected renewal near expiry, got %d logins", logins)
	}
}
