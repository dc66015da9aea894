// Package device models the remote PLC controller seen through the broker.
//
// It defines the device identity (a normalised MAC address), the fixed I/O
// layout of a device class, the decoded status snapshot, and relay control
// commands. It also owns the wire codec for both directions:
//
//	status topic  → DecodeStatus  → State
//	Command       → EncodeCommand → control topic
//
// # Key Types
//
//   - Identifier: Normalised 12-character upper-case hex MAC
//   - Layout: Arity of digital inputs, analog inputs and relays
//   - State: Immutable snapshot of the last received status payload
//   - Command: A single relay toggle
//
// # Wire Format
//
// Status payloads are JSON objects carrying at least:
//
//	{"digital_in":[1,0,0,0,0,0,0,0],"analog_in":[100,200,300,400],"relays_out":[0,0,0,0,0,0,0,0]}
//
// Unknown fields are ignored. Control payloads are single relay toggles:
//
//	{"relay":0,"state":1}
//
// # Thread Safety
//
// Everything in this package is pure. A State must not be mutated once it
// has been handed to the state store; use Clone to derive a modified copy.
package device
