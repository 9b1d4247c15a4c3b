package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

// Bounds is an optional service-area box. The zero value disables the check.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (b Bounds) IsZero() bool { return b == Bounds{} }

func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Normalizer turns raw feed rows into station records. It has no side
// effects.
type Normalizer struct {
	Bounds Bounds
}

func (n Normalizer) Normalize(raw types.RawRecord) (types.StationRecord, error) {
	id := strings.TrimSpace(raw["id"])
	if id == "" {
		return types.StationRecord{}, &ValidationError{Field: "id", Reason: "is required"}
	}

	name := strings.TrimSpace(raw["station_name"])
	if name == "" {
		name = strings.TrimSpace(raw["name"])
	}
	if name == "" {
		return types.StationRecord{}, &ValidationError{StationID: id, Field: "name", Reason: "is required"}
	}

	lat, err := parseCoord(raw["latitude"])
	if err != nil {
		return types.StationRecord{}, &ValidationError{StationID: id, Field: "latitude", Reason: err.Error()}
	}
	lon, err := parseCoord(raw["longitude"])
	if err != nil {
		return types.StationRecord{}, &ValidationError{StationID: id, Field: "longitude", Reason: err.Error()}
	}
	if !n.Bounds.IsZero() && !n.Bounds.Contains(lat, lon) {
		return types.StationRecord{}, &ValidationError{
			StationID: id,
			Field:     "coordinates",
			Reason:    "outside service area " + strconv.FormatFloat(lat, 'f', 5, 64) + "," + strconv.FormatFloat(lon, 'f', 5, 64),
		}
	}

	docks := 0
	if s := strings.TrimSpace(raw["total_docks"]); s != "" {
		docks, err = strconv.Atoi(s)
		if err != nil || docks < 0 {
			return types.StationRecord{}, &ValidationError{StationID: id, Field: "total_docks", Reason: "must be a non-negative integer"}
		}
	}

	shortName := strings.TrimSpace(raw["short_name"])

	return types.StationRecord{
		ID:            id,
		Name:          name,
		ShortName:     shortName,
		Latitude:      lat,
		Longitude:     lon,
		TotalDocks:    docks,
		IsElectrified: IsElectrified(name, shortName),
	}, nil
}

// IsElectrified applies the feed's naming convention: a trailing "*" on the
// station name, or "charging" anywhere in the short name.
func IsElectrified(name, shortName string) bool {
	return strings.HasSuffix(name, "*") ||
		strings.Contains(strings.ToLower(shortName), "charging")
}

type coordError string

func (e coordError) Error() string { return string(e) }

func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, coordError("is required")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, coordError("is not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, coordError("is not finite")
	}
	return v, nil
}
