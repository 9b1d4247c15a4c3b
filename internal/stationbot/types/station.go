package types

import "time"

// RawRecord is one row of the open-data feed, keyed by column name.
type RawRecord map[string]string

// StationRecord is the canonical view of a bike-share station.
//
// Everything except IsElectrified and LastElectrifiedAt is fixed the first
// time the station is stored.
type StationRecord struct {
	ID         string
	Name       string
	ShortName  string
	Latitude   float64
	Longitude  float64
	TotalDocks int

	IsElectrified     bool
	FirstSeenAt       time.Time
	LastElectrifiedAt *time.Time // nil until the station is seen electrified
}
