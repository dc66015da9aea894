// Package influxdb writes PLC telemetry to InfluxDB v2.
//
// Telemetry is optional and off by default. When enabled, a Recorder is
// registered as a state store observer and every change becomes a point:
//
//   - plc_status, one per decoded status, with integer fields di_N, ai_N
//     and relay_N
//   - plc_connection, one per connection change, with a boolean
//     "connected" field and the failure text in "error" when present
//
// Both measurements carry a device_id tag. Writes go through the
// non-blocking batching write API (batch_size, flush_interval), so an
// observer never waits on the network; write failures arrive on the
// SetOnError callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	manager.OnChange(influxdb.NewRecorder(client).Observe)
package influxdb
