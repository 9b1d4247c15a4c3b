package feed_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"github.com/BrandonDHaskell/stationbot/internal/feed"
)

const csvHeader = `"id","station_name","short_name","total_docks","docks_in_service","status","latitude","longitude"` + "\n"

func csvRows(from, to int) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for i := from; i < to; i++ {
		fmt.Fprintf(&b, "\"%d\",\"Station %d\",\"TA%d\",\"15\",\"15\",\"In Service\",\"41.88\",\"-87.63\"\n", i, i, i)
	}
	return b.String()
}

func newClient(url string, pageSize, retries int) *feed.Client {
	return feed.New(
		feed.Config{URL: url, PageSize: pageSize, MaxRetries: retries},
		feed.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
}

// ── Pagination ───────────────────────────────────────────────────────────────

func TestFetchAll_PaginatesUntilShortPage(t *testing.T) {
	const total = 7
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		q := r.URL.Query()
		if q.Get("$order") != ":id" {
			t.Errorf("expected $order=:id, got %q", q.Get("$order"))
		}
		limit, _ := strconv.Atoi(q.Get("$limit"))
		offset, _ := strconv.Atoi(q.Get("$offset"))
		end := offset + limit
		if end > total {
			end = total
		}
		if offset > total {
			offset = total
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csvRows(offset, end)))
	}))
	defer srv.Close()

	rows, err := newClient(srv.URL, 3, 0).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(rows) != total {
		t.Fatalf("expected %d rows, got %d", total, len(rows))
	}
	if requests.Load() != 3 {
		t.Errorf("expected 3 page requests, got %d", requests.Load())
	}
	for i, row := range rows {
		if row["id"] != strconv.Itoa(i) {
			t.Fatalf("row %d: expected id %d, got %q", i, i, row["id"])
		}
	}
	if rows[4]["station_name"] != "Station 4" || rows[4]["latitude"] != "41.88" {
		t.Errorf("unexpected row contents: %v", rows[4])
	}
}

func TestFetchAll_ExactMultipleNeedsEmptyPage(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("$offset"))
		if offset == 0 {
			_, _ = w.Write([]byte(csvRows(0, 2)))
			return
		}
		_, _ = w.Write([]byte(csvHeader))
	}))
	defer srv.Close()

	rows, err := newClient(srv.URL, 2, 0).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(rows) != 2 || requests.Load() != 2 {
		t.Errorf("expected 2 rows over 2 requests, got %d rows over %d", len(rows), requests.Load())
	}
}

func TestFetchAll_SendsAppToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-App-Token"); got != "tok" {
			t.Errorf("expected app token, got %q", got)
		}
		_, _ = w.Write([]byte(csvHeader))
	}))
	defer srv.Close()

	c := feed.New(feed.Config{URL: srv.URL, AppToken: "tok"})
	if _, err := c.FetchAll(context.Background()); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
}

// ── Retries ──────────────────────────────────────────────────────────────────

func TestFetchAll_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(csvRows(0, 1)))
	}))
	defer srv.Close()

	rows, err := newClient(srv.URL, 10, 3).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(rows) != 1 || requests.Load() != 3 {
		t.Errorf("expected success on third attempt, got %d rows after %d requests", len(rows), requests.Load())
	}
}

func TestFetchAll_RetriesRateLimit(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(csvHeader))
	}))
	defer srv.Close()

	if _, err := newClient(srv.URL, 10, 1).FetchAll(context.Background()); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", requests.Load())
	}
}

func TestFetchAll_ExhaustedRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 10, 2).FetchAll(context.Background())

	var fe *feed.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Attempts != 3 || fe.Offset != 0 {
		t.Errorf("expected 3 attempts at offset 0, got %+v", fe)
	}
	var se *feed.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("expected wrapped 502, got %v", err)
	}
	if requests.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", requests.Load())
	}
}

func TestFetchAll_ClientErrorIsPermanent(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "no such column", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 10, 5).FetchAll(context.Background())
	var fe *feed.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Attempts != 1 || requests.Load() != 1 {
		t.Errorf("expected a single attempt, got %d (requests %d)", fe.Attempts, requests.Load())
	}
}

func TestFetchAll_FailureOnLaterPageDiscardsEarlierRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$offset") == "0" {
			_, _ = w.Write([]byte(csvRows(0, 2)))
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	rows, err := newClient(srv.URL, 2, 0).FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if rows != nil {
		t.Errorf("expected no rows on failure, got %d", len(rows))
	}
	var fe *feed.FetchError
	if errors.As(err, &fe) && fe.Offset != 2 {
		t.Errorf("expected failing offset 2, got %d", fe.Offset)
	}
}

func TestFetchAll_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvHeader))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newClient(srv.URL, 10, 5).FetchAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
