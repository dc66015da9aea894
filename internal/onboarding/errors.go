package onboarding

import "errors"

var (
	// ErrBrokerUnreachable means the probe could not complete a handshake.
	ErrBrokerUnreachable = errors.New("onboarding: broker unreachable")

	// ErrDeviceOffline means the broker answered but the device published
	// no decodable status within the probe timeout.
	ErrDeviceOffline = errors.New("onboarding: device offline")

	// ErrRecentNotFound is returned when removing a device that is not in
	// the history.
	ErrRecentNotFound = errors.New("onboarding: device not in recent history")
)
