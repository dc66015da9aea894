package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/plc-remote/internal/device"
)

// Measurement names.
const (
	MeasurementStatus     = "plc_status"
	MeasurementConnection = "plc_connection"

	tagDeviceID = "device_id"
)

// WriteDeviceState records one decoded status snapshot as a plc_status
// point with fields di_N, ai_N and relay_N.
func (c *Client) WriteDeviceState(id device.Identifier, st device.State, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statusPoint(id, st, at))
}

// WriteConnection records a transport connection change as a
// plc_connection point.
func (c *Client) WriteConnection(id device.Identifier, connected bool, cause error, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(id, connected, cause, at))
}

func statusPoint(id device.Identifier, st device.State, at time.Time) *write.Point {
	return write.NewPoint(MeasurementStatus, deviceTags(id), statusFields(st), at)
}

func connectionPoint(id device.Identifier, connected bool, cause error, at time.Time) *write.Point {
	return write.NewPoint(MeasurementConnection, deviceTags(id), connectionFields(connected, cause), at)
}

func deviceTags(id device.Identifier) map[string]string {
	return map[string]string{tagDeviceID: string(id)}
}

// statusFields flattens a state into indexed integer fields.
func statusFields(st device.State) map[string]any {
	fields := make(map[string]any, len(st.DigitalInputs)+len(st.AnalogInputs)+len(st.Relays))
	addIndexed(fields, "di_", st.DigitalInputs)
	addIndexed(fields, "ai_", st.AnalogInputs)
	addIndexed(fields, "relay_", st.Relays)
	return fields
}

func addIndexed(fields map[string]any, prefix string, values []int) {
	for i, v := range values {
		fields[prefix+strconv.Itoa(i)] = int64(v)
	}
}

func connectionFields(connected bool, cause error) map[string]any {
	fields := map[string]any{"connected": connected}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	return fields
}
