// Package session owns the connection to one controller.
//
// A Session is a single SessionHandle: it is bound to one device
// identifier for its whole life, drives the broker connection through
// the phases below and writes what it learns into a state.Store.
//
//	Idle -> Connecting -> SubscribePending -> Ready
//	            |                |              |
//	            v                v              v
//	        Reconnecting <-------+--------------+
//	            |
//	            +--(fixed delay)--> Connecting
//
//	any phase --Close()--> Closed (terminal)
//
// All transitions happen on one goroutine per Session. Handshake
// results, subscribe acknowledgements, inbound messages, connection loss
// and publish requests are posted to it as events and handled one at a
// time, together with the reconnect and connect-deadline timers. Nothing
// that happens after Close has any effect.
//
// Prober runs the short-lived presence check used during onboarding, and
// Manager keeps at most one Session alive and exposes the read/command
// surface used by the HTTP API.
package session
