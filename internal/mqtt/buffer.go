package mqtt

import "log/slog"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// lifecycle reports whether the message is a system event rather than a
// telemetry sample.
func (m bufferedMsg) lifecycle() bool {
	return m.qos > 0 || m.retained
}

// outbox holds messages while the broker is unreachable and hands them back
// in publish order. When full, the oldest telemetry sample is dropped first;
// lifecycle events are only dropped once no telemetry remains.
// Not safe for concurrent use; RealPublisher holds its lock around every call.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int // since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if len(o.msgs) == o.capacity {
		if o.dropped == 0 {
			slog.Warn("mqtt: buffer full, dropping oldest telemetry", "capacity", o.capacity)
		}
		o.dropped++
		o.evict()
	}
	o.msgs = append(o.msgs, msg)
}

// evict removes the oldest telemetry sample, or the oldest message if only
// lifecycle events are queued.
func (o *outbox) evict() {
	victim := 0
	for i, m := range o.msgs {
		if !m.lifecycle() {
			victim = i
			break
		}
	}
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
}

func (o *outbox) drainAll() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	if o.dropped > 0 {
		slog.Info("mqtt: replaying buffer", "messages", len(o.msgs), "dropped", o.dropped)
	}
	result := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.capacity)
	o.dropped = 0
	return result
}

func (o *outbox) len() int {
	return len(o.msgs)
}
