// Package api exposes the PLC session over HTTP and WebSocket.
//
// Routes live under /api/v1:
//
//	GET    /health                 liveness, MQTT readiness, database check
//	GET    /status                 bound device, session phase, latest state
//	PUT    /relays/{index}         {"state":true}; 202, 409 when not connected
//	POST   /probe                  {"device_id","timeout_ms"}; presence probe
//	POST   /device                 {"device_id","skip_probe"}; onboarding bind
//	DELETE /device                 unbind the standing session
//	GET    /devices/recent         recent-devices history
//	DELETE /devices/recent/{id}    forget one history entry
//	GET    /ws                     connection.changed and state.changed events
//
// Errors are JSON objects {"status","code","message"}. Relay commands are
// fire-and-forget: the 202 means the command was handed to the broker, and
// the resulting relay state arrives as a state.changed event once the
// device publishes it.
package api
