package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

func rawStation(id, name, shortName string) types.RawRecord {
	return types.RawRecord{
		"id":               id,
		"station_name":     name,
		"short_name":       shortName,
		"total_docks":      "15",
		"docks_in_service": "15",
		"status":           "In Service",
		"latitude":         "41.8810",
		"longitude":        "-87.6298",
	}
}

type fakeFetcher struct {
	records []types.RawRecord
	err     error
	calls   int
}

func (f *fakeFetcher) FetchAll(context.Context) ([]types.RawRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.RawRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

// fakePoster records every post and fails those whose station line matches
// one of failNames.
type fakePoster struct {
	mu        sync.Mutex
	failNames map[string]bool
	texts     []string
	images    [][]types.Image
}

func (p *fakePoster) Post(_ context.Context, text string, images []types.Image) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	p.images = append(p.images, images)
	for name := range p.failNames {
		if strings.Contains(text, "📍 "+name+"\n") {
			return "", errors.New("bluesky: 502 bad gateway")
		}
	}
	return fmt.Sprintf("at://did:plc:test/app.bsky.feed.post/%d", len(p.texts)), nil
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}

type fakeRenderer struct {
	err   error
	calls int
}

func (r *fakeRenderer) RenderMap(_ context.Context, _ []types.StationRecord, _ types.StationRecord) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("\x89PNG"), nil
}

type fakeStreetView struct {
	ok    bool
	calls int
}

func (s *fakeStreetView) FetchImage(context.Context, float64, float64) ([]byte, bool) {
	s.calls++
	if !s.ok {
		return nil, false
	}
	return []byte("\xff\xd8jpeg"), true
}
