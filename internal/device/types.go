package device

import (
	"fmt"
	"slices"
)

// Layout defaults for the ESP32 PLC board.
const (
	DefaultDigitalInputs = 8
	DefaultAnalogInputs  = 4
	DefaultRelays        = 8

	// MaxAnalog is the full-scale reading of the 12-bit ADC.
	// Values above it are passed through as received.
	MaxAnalog = 4095
)

// Identifier is a normalised device MAC address, e.g. "AABBCCDDEEFF".
// Obtain one through ParseIdentifier; the zero value is not valid.
type Identifier string

// String returns the identifier as a plain string.
func (id Identifier) String() string {
	return string(id)
}

// Layout is the fixed I/O arity of a device class.
// Array lengths in State never change for a given layout.
type Layout struct {
	DigitalInputs int `json:"digital_inputs" yaml:"digital_inputs"`
	AnalogInputs  int `json:"analog_inputs" yaml:"analog_inputs"`
	Relays        int `json:"relays" yaml:"relays"`
}

// DefaultLayout returns the 8 DI / 4 AI / 8 relay layout.
func DefaultLayout() Layout {
	return Layout{
		DigitalInputs: DefaultDigitalInputs,
		AnalogInputs:  DefaultAnalogInputs,
		Relays:        DefaultRelays,
	}
}

// Validate checks that every arity is positive.
func (l Layout) Validate() error {
	if l.DigitalInputs <= 0 || l.AnalogInputs <= 0 || l.Relays <= 0 {
		return fmt.Errorf("%w: %d/%d/%d (digital/analog/relays must be positive)",
			ErrInvalidLayout, l.DigitalInputs, l.AnalogInputs, l.Relays)
	}
	return nil
}

// State is the decoded status snapshot of one device.
//
// Digital inputs and relays are nominally 0/1 and analog inputs nominally
// 0..MaxAnalog, but values are stored exactly as received.
type State struct {
	DigitalInputs []int `json:"digital_in"`
	AnalogInputs  []int `json:"analog_in"`
	Relays        []int `json:"relays_out"`
}

// ZeroState returns the all-zero snapshot shown before the first status arrives.
func ZeroState(l Layout) State {
	return State{
		DigitalInputs: make([]int, l.DigitalInputs),
		AnalogInputs:  make([]int, l.AnalogInputs),
		Relays:        make([]int, l.Relays),
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{
		DigitalInputs: slices.Clone(s.DigitalInputs),
		AnalogInputs:  slices.Clone(s.AnalogInputs),
		Relays:        slices.Clone(s.Relays),
	}
}

// Equal reports whether two snapshots hold identical values.
func (s State) Equal(other State) bool {
	return slices.Equal(s.DigitalInputs, other.DigitalInputs) &&
		slices.Equal(s.AnalogInputs, other.AnalogInputs) &&
		slices.Equal(s.Relays, other.Relays)
}

// RelayOn reports whether relay i was last reported energised.
// Out-of-range indices report false.
func (s State) RelayOn(i int) bool {
	if i < 0 || i >= len(s.Relays) {
		return false
	}
	return s.Relays[i] != 0
}

// Command toggles a single relay output.
type Command struct {
	Relay int
	On    bool
}

// String returns a short description used in logs.
func (c Command) String() string {
	if c.On {
		return fmt.Sprintf("relay %d on", c.Relay)
	}
	return fmt.Sprintf("relay %d off", c.Relay)
}
