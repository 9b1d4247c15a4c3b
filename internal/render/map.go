// Package render draws the locator map attached to station posts.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"math"

	sm "github.com/flopp/go-staticmaps"
	"github.com/golang/geo/s2"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

const (
	DefaultWidth        = 800
	DefaultHeight       = 600
	DefaultZoom         = 16
	DefaultRadiusMeters = 400.0
	DefaultUserAgent    = "stationbot/1.0 (+https://github.com/BrandonDHaskell/stationbot)"

	earthRadiusMeters = 6371010.0
	highlightSize     = 24.0
	neighbourSize     = 12.0
)

var ErrInvalidLocation = errors.New("render: station has no usable coordinates")

var (
	colRadiusLine = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	colRadiusFill = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x33}
	colElectric   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	colStandard   = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

// MapRenderer draws an OpenStreetMap map centred on one station, with a
// radius circle and the stations around it.
type MapRenderer struct {
	Width        int
	Height       int
	Zoom         int
	RadiusMeters float64

	// TileProvider defaults to the OpenStreetMap standard layer.
	TileProvider *sm.TileProvider
	UserAgent    string

	// NoTileCache skips the on-disk tile cache under the user cache dir.
	NoTileCache bool
}

func NewMapRenderer() *MapRenderer {
	return &MapRenderer{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		Zoom:         DefaultZoom,
		RadiusMeters: DefaultRadiusMeters,
		UserAgent:    DefaultUserAgent,
	}
}

// RenderMap returns a PNG. Other stations within the frame are drawn as
// small markers in their electrification colour; highlight is drawn last.
func (m *MapRenderer) RenderMap(ctx context.Context, stations []types.StationRecord, highlight types.StationRecord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validCoord(highlight.Latitude, highlight.Longitude) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLocation, highlight.ID)
	}

	w, h := m.Width, m.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	centre := s2.LatLngFromDegrees(highlight.Latitude, highlight.Longitude)

	mc := sm.NewContext()
	mc.SetSize(w, h)
	mc.SetZoom(m.zoom())
	mc.SetCenter(centre)
	mc.SetUserAgent(m.userAgent())
	if m.TileProvider != nil {
		mc.SetTileProvider(m.TileProvider)
	} else {
		mc.SetTileProvider(sm.NewTileProviderOpenStreetMaps())
	}
	if m.NoTileCache {
		mc.SetCache(nil)
	}

	mc.AddObject(sm.NewCircle(centre, colRadiusLine, colRadiusFill, m.radius(), 2))

	// Half the frame diagonal in metres, so markers outside the image are skipped.
	reach := frameReach(highlight.Latitude, m.zoom(), w, h)
	for _, st := range stations {
		if st.ID == highlight.ID || !validCoord(st.Latitude, st.Longitude) {
			continue
		}
		pos := s2.LatLngFromDegrees(st.Latitude, st.Longitude)
		if centre.Distance(pos).Radians()*earthRadiusMeters > reach {
			continue
		}
		mc.AddObject(sm.NewMarker(pos, markerColor(st), neighbourSize))
	}
	mc.AddObject(sm.NewMarker(centre, markerColor(highlight), highlightSize))

	img, err := mc.Render()
	if err != nil {
		return nil, fmt.Errorf("render map: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode map png: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *MapRenderer) zoom() int {
	if m.Zoom <= 0 {
		return DefaultZoom
	}
	return m.Zoom
}

func (m *MapRenderer) radius() float64 {
	if m.RadiusMeters <= 0 {
		return DefaultRadiusMeters
	}
	return m.RadiusMeters
}

func (m *MapRenderer) userAgent() string {
	if m.UserAgent == "" {
		return DefaultUserAgent
	}
	return m.UserAgent
}

func markerColor(st types.StationRecord) color.RGBA {
	if st.IsElectrified {
		return colElectric
	}
	return colStandard
}

func validCoord(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -85 && lat <= 85 && lon >= -180 && lon <= 180 &&
		!(lat == 0 && lon == 0)
}

// frameReach is the ground distance from the centre to a corner of a w x h
// Web Mercator frame at zoom.
func frameReach(lat float64, zoom, w, h int) float64 {
	metersPerPixel := 2 * math.Pi * earthRadiusMeters * math.Cos(lat*math.Pi/180) / (256 * math.Pow(2, float64(zoom)))
	return math.Hypot(float64(w), float64(h)) / 2 * metersPerPixel
}
