package device

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierLength is the number of hex digits in a MAC address.
const identifierLength = 12

var identifierRegex = regexp.MustCompile(`^[0-9A-F]{12}$`)

// separatorReplacer strips the separators people commonly type in MACs.
var separatorReplacer = strings.NewReplacer(":", "", "-", "", ".", "")

// ParseIdentifier normalises and validates a device identifier.
//
// Surrounding whitespace and ':', '-' or '.' separators are removed and the
// result is upper-cased, so "aa:bb:cc:dd:ee:ff" and "AABBCCDDEEFF" are the
// same device.
//
// Returns:
//   - Identifier: Normalised identifier
//   - error: ErrInvalidIdentifier if empty or not 12 hex digits
func ParseIdentifier(raw string) (Identifier, error) {
	normalised := strings.ToUpper(separatorReplacer.Replace(strings.TrimSpace(raw)))
	if normalised == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(normalised) != identifierLength || !identifierRegex.MatchString(normalised) {
		return "", fmt.Errorf("%w: %q is not a %d-digit hex MAC address", ErrInvalidIdentifier, raw, identifierLength)
	}
	return Identifier(normalised), nil
}

// Valid reports whether id is already in normalised form.
func (id Identifier) Valid() bool {
	return identifierRegex.MatchString(string(id))
}

// NewCommand builds a relay command after checking the index against the layout.
//
// Returns:
//   - Command: Validated command
//   - error: ErrInvalidCommand if relay is outside [0, layout.Relays)
func NewCommand(l Layout, relay int, on bool) (Command, error) {
	cmd := Command{Relay: relay, On: on}
	if err := cmd.Validate(l); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks the command against a layout.
func (c Command) Validate(l Layout) error {
	if c.Relay < 0 || c.Relay >= l.Relays {
		return fmt.Errorf("%w: relay %d outside [0, %d)", ErrInvalidCommand, c.Relay, l.Relays)
	}
	return nil
}
