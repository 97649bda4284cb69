package mqtt

// NopPublisher discards everything. Used when no broker is configured.
type NopPublisher struct{}

// PublishTelemetry discards the telemetry.
func (NopPublisher) PublishTelemetry(Telemetry) error { return nil }

// PublishSystem discards the event.
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }

// Close does nothing.
func (NopPublisher) Close() error { return nil }

// IsConnected is always false.
func (NopPublisher) IsConnected() bool { return false }
