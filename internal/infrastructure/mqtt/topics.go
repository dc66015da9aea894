package mqtt

import (
	"fmt"

	"github.com/nerrad567/plc-remote/internal/device"
)

// DefaultPrefix is the first topic level when Topics.Prefix is empty.
const DefaultPrefix = "plc"

// Topic channel segments.
const (
	channelStatus  = "status"
	channelControl = "control"
)

// Topics builds the per-device topic names under a fixed prefix.
//
// Status and Control are pure and injective: distinct identifiers yield
// distinct topics, and a device's status topic never equals its control
// topic.
type Topics struct {
	Prefix string
}

// TopicPair holds both topics of one device.
type TopicPair struct {
	DeviceID device.Identifier
	Status   string
	Control  string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// Status returns the topic the device publishes its snapshot on.
//
// Example: plc/status/AABBCCDDEEFF
func (t Topics) Status(id device.Identifier) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), channelStatus, id)
}

// Control returns the topic the device listens on for commands.
//
// Example: plc/control/AABBCCDDEEFF
func (t Topics) Control(id device.Identifier) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), channelControl, id)
}

// ForDevice normalises a raw identifier and returns both of its topics.
// An identifier that does not parse yields device.ErrInvalidIdentifier and
// no topics.
func (t Topics) ForDevice(raw string) (TopicPair, error) {
	id, err := device.ParseIdentifier(raw)
	if err != nil {
		return TopicPair{}, err
	}
	return t.Pair(id), nil
}

// Pair returns both topics for an already validated identifier.
func (t Topics) Pair(id device.Identifier) TopicPair {
	return TopicPair{
		DeviceID: id,
		Status:   t.Status(id),
		Control:  t.Control(id),
	}
}
