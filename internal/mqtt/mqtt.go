// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

// TopicTelemetry is the MQTT topic for periodic temperature and relay readings.
const TopicTelemetry = "kitchen/burner/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "kitchen/burner/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishTelemetry sends one reading with the control state at that time.
	// Returns error if publishing fails (should not crash the process).
	PublishTelemetry(t Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Telemetry is one probe reading together with the relay state.
type Telemetry struct {
	Reading   probe.Reading
	Running   bool
	TargetC   float64
	Stage1On  bool
	Stage2On  bool
	PIDOutput float64
	Connected bool
	BurnTime  time.Duration // total burner on-time
}

// NewTelemetry combines a reading with a control state snapshot.
func NewTelemetry(r probe.Reading, snap status.Snapshot) Telemetry {
	return Telemetry{
		Reading:   r,
		Running:   snap.Running,
		TargetC:   snap.TargetC,
		Stage1On:  snap.Stage1On,
		Stage2On:  snap.Stage2On,
		PIDOutput: snap.PIDOutput,
		Connected: snap.Connected,
		BurnTime:  snap.Stage1Burn,
	}
}

// Payload represents the MQTT telemetry payload structure.
type Payload struct {
	Burner BurnerPayload `json:"burner"`
}

// BurnerPayload contains the telemetry details. Timestamp is milliseconds
// since the Unix epoch; temperatures are Celsius and null when invalid.
type BurnerPayload struct {
	Timestamp  int64    `json:"timestamp"`
	PrimaryC   *float64 `json:"primary_c"`
	SecondaryC *float64 `json:"secondary_c"`
	TargetC    float64  `json:"target_c"`
	Running    bool     `json:"running"`
	Stage1On   bool     `json:"stage1_on"`
	Stage2On   bool     `json:"stage2_on"`
	BurnerOn   bool     `json:"burner_on"`
	PIDOutput  float64  `json:"pid_output"`
	Connected  bool     `json:"connected"`
	BurnSecs   int64    `json:"burn_total_seconds"`
}

// FormatTelemetry creates the JSON payload for a telemetry message.
func FormatTelemetry(t Telemetry) ([]byte, error) {
	payload := Payload{
		Burner: BurnerPayload{
			Timestamp:  status.UnixMilli(t.Reading.Time),
			PrimaryC:   t.Reading.Primary.TempC,
			SecondaryC: t.Reading.Secondary.TempC,
			TargetC:    t.TargetC,
			Running:    t.Running,
			Stage1On:   t.Stage1On,
			Stage2On:   t.Stage2On,
			BurnerOn:   t.Stage1On || t.Stage2On,
			PIDOutput:  t.PIDOutput,
			Connected:  t.Connected,
			BurnSecs:   int64(t.BurnTime.Truncate(time.Second).Seconds()),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: status.UnixMilli(event.Timestamp),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
