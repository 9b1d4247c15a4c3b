package types

type EventKind string

const (
	EventNewStation  EventKind = "new_station"
	EventElectrified EventKind = "electrified"
)

// Event is a detected station transition. Events live for a single run.
type Event struct {
	Kind     EventKind
	Station  StationRecord  // as delivered by the feed in this run
	Previous *StationRecord // stored record; nil for new stations
	Forced   bool
}
