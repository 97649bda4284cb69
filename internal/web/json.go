package web

import (
	"github.com/sweeney/burner-controller/internal/calibration"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

// ChannelJSON is the JSON representation of one probe. Unavailable values
// are null.
type ChannelJSON struct {
	TempC      *float64 `json:"temp_c"`
	TempF      *float64 `json:"temp_f"`
	Voltage    *float64 `json:"voltage,omitempty"`
	Resistance *float64 `json:"resistance,omitempty"`
	InternalC  *float64 `json:"internal_c,omitempty"`
	Faults     []string `json:"faults,omitempty"`
}

// ReadingJSON is the JSON representation of one reading.
type ReadingJSON struct {
	Timestamp int64       `json:"timestamp"`
	Primary   ChannelJSON `json:"primary"`
	Secondary ChannelJSON `json:"secondary"`
}

// PointJSON is one history point.
type PointJSON struct {
	Timestamp  int64    `json:"timestamp"`
	PrimaryC   *float64 `json:"primary_c"`
	SecondaryC *float64 `json:"secondary_c"`
}

// HistoryJSON is the body of the history endpoints.
type HistoryJSON struct {
	Window string      `json:"window,omitempty"`
	Points []PointJSON `json:"points"`
}

// SetTargetRequest is the body of POST /set_target_temp. Exactly one of the
// fields must be set.
type SetTargetRequest struct {
	Temp  *float64 `json:"temp"`
	TempF *float64 `json:"temp_f"`
}

// ResultJSON is the reply to a control request.
type ResultJSON struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Running *bool    `json:"running,omitempty"`
	TargetC *float64 `json:"target_temp_c,omitempty"`
}

// LogsJSON is the body of GET /logs.
type LogsJSON struct {
	Lines []string `json:"lines"`
}

// LiveJSON is one websocket frame.
type LiveJSON struct {
	Status  status.StatusInner `json:"status"`
	Reading *ReadingJSON       `json:"reading"`
}

func fahrenheit(c *float64) *float64 {
	if c == nil {
		return nil
	}
	f := calibration.CelsiusToFahrenheit(*c)
	return &f
}

func faultNames(f probe.Faults) []string {
	var names []string
	if f.Fault {
		names = append(names, "fault")
	}
	if f.OpenCircuit {
		names = append(names, "open_circuit")
	}
	if f.ShortGND {
		names = append(names, "short_gnd")
	}
	if f.ShortVCC {
		names = append(names, "short_vcc")
	}
	return names
}

func channelJSON(c probe.Channel) ChannelJSON {
	return ChannelJSON{
		TempC:      c.TempC,
		TempF:      fahrenheit(c.TempC),
		Voltage:    c.Voltage,
		Resistance: c.Resistance,
		InternalC:  c.InternalC,
		Faults:     faultNames(c.Faults),
	}
}

func readingJSON(r probe.Reading) ReadingJSON {
	return ReadingJSON{
		Timestamp: status.UnixMilli(r.Time),
		Primary:   channelJSON(r.Primary),
		Secondary: channelJSON(r.Secondary),
	}
}

func historyJSON(window string, points []history.Point) HistoryJSON {
	out := HistoryJSON{Window: window, Points: make([]PointJSON, len(points))}
	for i, p := range points {
		out.Points[i] = PointJSON{
			Timestamp:  status.UnixMilli(p.Time),
			PrimaryC:   p.PrimaryC,
			SecondaryC: p.SecondaryC,
		}
	}
	return out
}
