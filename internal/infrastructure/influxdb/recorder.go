package influxdb

import (
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/state"
)

// Sink is the write side of Client.
type Sink interface {
	WriteDeviceState(id device.Identifier, st device.State, at time.Time)
	WriteConnection(id device.Identifier, connected bool, cause error, at time.Time)
}

var _ Sink = (*Client)(nil)

// Recorder turns state store changes into telemetry points.
type Recorder struct {
	sink Sink
}

// NewRecorder returns a Recorder writing to sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Observe is a state.Observer. Changes with no bound device are skipped.
func (r *Recorder) Observe(c state.Change) {
	snap := c.Snapshot
	if snap.DeviceID == "" {
		return
	}
	switch c.Kind {
	case state.ChangeState:
		r.sink.WriteDeviceState(snap.DeviceID, snap.State, snap.UpdatedAt)
	case state.ChangeConnection:
		r.sink.WriteConnection(snap.DeviceID, snap.Connected, snap.LastError, snap.UpdatedAt)
	}
}
