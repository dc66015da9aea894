// Package state holds the observable view of the bound controller.
//
// Store keeps the connection flag, the last decoded device state and the
// last connection error together in one immutable Snapshot. Readers get a
// consistent copy without locking; writers publish a new Snapshot and
// notify observers registered with OnChange.
//
// There is a single writer in practice (the session event loop), but
// Store does not rely on that.
package state
