package service

import (
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/types"
)

const DefaultSystemName = "Divvy"

// ComposePost renders the post body for an event.
func ComposePost(systemName string, ev types.Event) string {
	if systemName == "" {
		systemName = DefaultSystemName
	}
	st := ev.Station

	var b strings.Builder
	switch ev.Kind {
	case types.EventElectrified:
		fmt.Fprintf(&b, "⚡ %s Station Electrified!\n\n", systemName)
		fmt.Fprintf(&b, "📍 %s\n", st.Name)
		writeDocks(&b, st.TotalDocks)
		b.WriteString("Now supporting electric bikes! 🔌")
	default:
		fmt.Fprintf(&b, "🆕 New %s Station Alert!\n\n", systemName)
		fmt.Fprintf(&b, "📍 %s\n", st.Name)
		writeDocks(&b, st.TotalDocks)
		if st.IsElectrified {
			b.WriteString("⚡ Electric bikes available!")
		} else {
			b.WriteString("⚡ Standard bikes only")
		}
	}
	return b.String()
}

func writeDocks(b *strings.Builder, docks int) {
	if docks > 0 {
		fmt.Fprintf(b, "🚲 %d docks\n", docks)
	}
}

func mapAltText(systemName string, st types.StationRecord) string {
	if systemName == "" {
		systemName = DefaultSystemName
	}
	return fmt.Sprintf("Map showing the location of the %s station %s", systemName, st.Name)
}

func streetViewAltText(st types.StationRecord) string {
	return fmt.Sprintf("Street-level photo near %s", st.Name)
}
