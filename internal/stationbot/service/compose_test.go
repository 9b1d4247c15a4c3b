package service_test

import (
	"strings"
	"testing"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/service"
	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

func TestComposePost_NewStation(t *testing.T) {
	ev := types.Event{
		Kind:    types.EventNewStation,
		Station: types.StationRecord{ID: "1", Name: "Clark St & Elm St", TotalDocks: 19},
	}
	want := "🆕 New Divvy Station Alert!\n\n📍 Clark St & Elm St\n🚲 19 docks\n⚡ Standard bikes only"
	if got := service.ComposePost("", ev); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestComposePost_NewElectrifiedStation(t *testing.T) {
	ev := types.Event{
		Kind:    types.EventNewStation,
		Station: types.StationRecord{ID: "1", Name: "Wood St*", TotalDocks: 11, IsElectrified: true},
	}
	got := service.ComposePost("Divvy", ev)
	if !strings.HasSuffix(got, "⚡ Electric bikes available!") {
		t.Errorf("expected electric line, got %q", got)
	}
}

func TestComposePost_Electrified(t *testing.T) {
	ev := types.Event{
		Kind:    types.EventElectrified,
		Station: types.StationRecord{ID: "1", Name: "Wood St*", TotalDocks: 11, IsElectrified: true},
	}
	want := "⚡ Citi Bike Station Electrified!\n\n📍 Wood St*\n🚲 11 docks\nNow supporting electric bikes! 🔌"
	if got := service.ComposePost("Citi Bike", ev); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestComposePost_OmitsUnknownDocks(t *testing.T) {
	ev := types.Event{
		Kind:    types.EventNewStation,
		Station: types.StationRecord{ID: "1", Name: "Lake St"},
	}
	if got := service.ComposePost("", ev); strings.Contains(got, "docks") {
		t.Errorf("docks line should be omitted, got %q", got)
	}
}
