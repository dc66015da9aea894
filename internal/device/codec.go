package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Status payload field names.
const (
	FieldDigitalInputs = "digital_in"
	FieldAnalogInputs  = "analog_in"
	FieldRelays        = "relays_out"
)

// commandPayload is the control topic wire format.
type commandPayload struct {
	Relay int `json:"relay"`
	State int `json:"state"`
}

// DecodeStatus parses a status payload into a State for the given layout.
//
// Every required array must be present with exactly the layout's arity and
// hold only integers. Out-of-range integers are kept as-is. Unknown fields
// are ignored. On failure no partial State is returned.
//
// Returns:
//   - State: Decoded snapshot
//   - error: *DecodeError (ErrMalformedPayload or ErrSchemaMismatch)
func DecodeStatus(l Layout, payload []byte) (State, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return State{}, &DecodeError{Kind: DecodeSchemaMismatch, Reason: "payload is not an object", Err: err}
		}
		return State{}, &DecodeError{Kind: DecodeMalformed, Reason: "invalid JSON", Err: err}
	}

	digital, err := decodeIntArray(fields, FieldDigitalInputs, l.DigitalInputs)
	if err != nil {
		return State{}, err
	}
	analog, err := decodeIntArray(fields, FieldAnalogInputs, l.AnalogInputs)
	if err != nil {
		return State{}, err
	}
	relays, err := decodeIntArray(fields, FieldRelays, l.Relays)
	if err != nil {
		return State{}, err
	}

	return State{
		DigitalInputs: digital,
		AnalogInputs:  analog,
		Relays:        relays,
	}, nil
}

// decodeIntArray extracts one fixed-arity integer array from the payload.
func decodeIntArray(fields map[string]json.RawMessage, name string, arity int) ([]int, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, &DecodeError{Kind: DecodeSchemaMismatch, Field: name, Reason: "missing"}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, &DecodeError{Kind: DecodeSchemaMismatch, Field: name, Reason: "not an array", Err: err}
	}
	if len(items) != arity {
		return nil, &DecodeError{
			Kind:   DecodeSchemaMismatch,
			Field:  name,
			Reason: fmt.Sprintf("has %d elements, want %d", len(items), arity),
		}
	}

	values := make([]int, len(items))
	for i, item := range items {
		v, err := decodeInt(item)
		if err != nil {
			return nil, &DecodeError{
				Kind:   DecodeSchemaMismatch,
				Field:  fmt.Sprintf("%s[%d]", name, i),
				Reason: "not an integer",
				Err:    err,
			}
		}
		values[i] = v
	}
	return values, nil
}

// decodeInt accepts only JSON integer literals. Strings, booleans, null and
// fractional numbers are rejected rather than coerced.
func decodeInt(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("got %T", v)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// EncodeCommand renders a command as a control payload: {"relay":n,"state":0|1}.
//
// The command should already be validated with NewCommand or Command.Validate.
func EncodeCommand(c Command) []byte {
	p := commandPayload{Relay: c.Relay}
	if c.On {
		p.State = 1
	}
	//nolint:errcheck // Marshalling two ints cannot fail
	data, _ := json.Marshal(p)
	return data
}

// DecodeCommand parses a control payload. It is the inverse of EncodeCommand.
func DecodeCommand(payload []byte) (Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if p.State != 0 && p.State != 1 {
		return Command{}, fmt.Errorf("%w: state %d is not 0 or 1", ErrInvalidCommand, p.State)
	}
	return Command{Relay: p.Relay, On: p.State == 1}, nil
}
