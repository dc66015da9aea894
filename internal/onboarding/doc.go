// Package onboarding binds an operator-entered device identifier to the
// standing session.
//
// Connect validates the identifier, runs a presence probe and refuses to
// bind when the broker cannot be reached or the device stays silent. A
// successful bind is recorded in the recent-devices history, a short
// most-recently-used list kept in SQLite so the operator can pick a
// controller again without retyping its MAC address.
package onboarding
