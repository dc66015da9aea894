package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
)

// ChangeKind says which part of the snapshot a Change reports.
type ChangeKind int

const (
	// ChangeConnection reports a connection flag or error update.
	ChangeConnection ChangeKind = iota + 1
	// ChangeState reports a newly decoded device state.
	ChangeState
)

// String returns the event name used on the WebSocket feed.
func (k ChangeKind) String() string {
	switch k {
	case ChangeConnection:
		return "connection.changed"
	case ChangeState:
		return "state.changed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	// DeviceID is the bound device, empty when nothing is bound.
	DeviceID  device.Identifier
	Connected bool
	State     device.State
	// LastError is the most recent connection failure, cleared on success.
	LastError error
	UpdatedAt time.Time
}

// Change is delivered to observers after every write.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}

// Observer receives changes synchronously on the writer's goroutine. It
// must not block, write to the store or issue commands.
type Observer func(Change)

// Store is safe for concurrent use.
type Store struct {
	current atomic.Pointer[Snapshot]
	now     func() time.Time

	mu        sync.Mutex // serialises writers
	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextObs   uint64
}

// NewStore returns a disconnected store whose state is all zeros for layout.
func NewStore(layout device.Layout) *Store {
	s := &Store{
		now:       time.Now,
		observers: make(map[uint64]Observer),
	}
	s.current.Store(&Snapshot{
		State:     device.ZeroState(layout),
		UpdatedAt: s.now(),
	})
	return s
}

// Snapshot returns a copy of the current view.
func (s *Store) Snapshot() Snapshot {
	snap := *s.current.Load()
	snap.State = snap.State.Clone()
	return snap
}

// Connected reports whether the bound session is ready.
func (s *Store) Connected() bool {
	return s.current.Load().Connected
}

// LatestState returns a copy of the most recently decoded state.
func (s *Store) LatestState() device.State {
	return s.current.Load().State.Clone()
}

// SetConnection records the connection flag. A non-nil err is kept as
// LastError; a nil err with connected=true clears it. Observers are
// notified on every call.
func (s *Store) SetConnection(connected bool, err error) {
	s.mu.Lock()
	next := *s.current.Load()
	next.Connected = connected
	switch {
	case err != nil:
		next.LastError = err
	case connected:
		next.LastError = nil
	}
	next.UpdatedAt = s.now()
	s.current.Store(&next)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConnection, Snapshot: s.Snapshot()})
}

// SetState replaces the device state and notifies observers.
func (s *Store) SetState(st device.State) {
	s.mu.Lock()
	next := *s.current.Load()
	next.State = st.Clone()
	next.UpdatedAt = s.now()
	s.current.Store(&next)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeState, Snapshot: s.Snapshot()})
}

// Reset returns the store to disconnected with a zero state for layout
// and tags it with id. It is called on every bind and unbind; an unbind
// passes an empty id.
func (s *Store) Reset(id device.Identifier, layout device.Layout) {
	s.mu.Lock()
	s.current.Store(&Snapshot{
		DeviceID:  id,
		State:     device.ZeroState(layout),
		UpdatedAt: s.now(),
	})
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConnection, Snapshot: s.Snapshot()})
}

// OnChange registers fn and returns a function that removes it.
func (s *Store) OnChange(fn Observer) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) notify(c Change) {
	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(c)
	}
}
