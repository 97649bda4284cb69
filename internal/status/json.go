package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details. Timestamps are milliseconds
// since the Unix epoch.
type StatusInner struct {
	Event          string           `json:"event,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Running        bool             `json:"running"`
	TargetC        float64          `json:"target_temp_c"`
	TargetF        float64          `json:"target_temp_f"`
	Stage1On       bool             `json:"stage1_on"`
	Stage2On       bool             `json:"stage2_on"`
	BurnerOn       bool             `json:"burner_on"`
	RequestedStage int              `json:"requested_stage"`
	PIDOutput      float64          `json:"pid_output"`
	Fault          string           `json:"fault,omitempty"`
	Connected      bool             `json:"connected"`
	LastToggle     map[string]int64 `json:"last_toggle"`
	BurnSeconds    BurnJSON         `json:"burn_seconds"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	StartTime      int64            `json:"start_time"`
	Timestamp      int64            `json:"timestamp"`
	MQTT           MQTTStatus       `json:"mqtt"`
	Network        *NetworkJSON     `json:"network,omitempty"`
	Config         ConfigJSON       `json:"config"`
}

// BurnJSON is accumulated burner on-time in whole seconds.
type BurnJSON struct {
	Total  int64 `json:"total"`
	Stage1 int64 `json:"stage1"`
	Stage2 int64 `json:"stage2"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Sensor      string `json:"sensor"`
	Stages      int    `json:"stages"`
	PinStage1   int    `json:"pin_stage1"`
	PinStage2   int    `json:"pin_stage2"`
}

// UnixMilli returns t in milliseconds since the epoch, or 0 for the zero time.
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func seconds(d time.Duration) int64 {
	return int64(d.Truncate(time.Second).Seconds())
}

func stageKey(stage int) string {
	switch stage {
	case 1:
		return "stage1"
	case 2:
		return "stage2"
	}
	return "stage0"
}

func buildInner(snap Snapshot) StatusInner {
	toggles := make(map[string]int64, len(snap.LastToggle))
	for stage, at := range snap.LastToggle {
		if !at.IsZero() {
			toggles[stageKey(stage)] = at.UnixMilli()
		}
	}

	return StatusInner{
		Running:        snap.Running,
		TargetC:        snap.TargetC,
		TargetF:        snap.TargetC*9/5 + 32,
		Stage1On:       snap.Stage1On,
		Stage2On:       snap.Stage2On,
		BurnerOn:       snap.BurnerOn,
		RequestedStage: snap.RequestedStage,
		PIDOutput:      snap.PIDOutput,
		Fault:          snap.Fault,
		Connected:      snap.Connected,
		LastToggle:     toggles,
		BurnSeconds: BurnJSON{
			Total:  seconds(snap.Stage1Burn),
			Stage1: seconds(snap.Stage1Burn),
			Stage2: seconds(snap.Stage2Burn),
		},
		UptimeSeconds:  seconds(snap.Uptime()),
		StartTime:      UnixMilli(snap.StartTime),
		Timestamp:      UnixMilli(snap.Now),
		MQTT:           MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Sensor:      snap.Config.Sensor,
			Stages:      snap.Config.Stages,
			PinStage1:   snap.Config.PinStage1,
			PinStage2:   snap.Config.PinStage2,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// Inner returns the status body without the envelope, for embedding in
// other payloads.
func Inner(snap Snapshot) StatusInner {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: Inner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := Inner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
