// Package signal implements the observer registry used by the port and
// listener layers (spec.md §4.10 C10). The teacher repo's
// transport.Logger is a single Printf sink; this generalizes that one-shot
// hook into a named, multi-subscriber pub/sub registry so a port's
// opened/closed/tx/rx/error events and a listener's newConnection/
// closeConnection events can each reach an arbitrary number of observers.
// The zap logging in the port package is called directly and is not a
// subscriber of this registry.
package signal

import "sync"

// Name identifies one of the fixed signal channels a Registry carries.
type Name int

// The signal channels raised by the port and listener layers.
const (
	Opened Name = iota
	Closed
	Tx
	Rx
	Error
	NewConnection
	CloseConnection
)

func (n Name) String() string {
	switch n {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case Tx:
		return "tx"
	case Rx:
		return "rx"
	case Error:
		return "error"
	case NewConnection:
		return "newConnection"
	case CloseConnection:
		return "closeConnection"
	default:
		return "unknown"
	}
}

// SourceArgs is carried by Opened/Closed: the name of the port that fired.
type SourceArgs struct {
	Source string
}

// BufferArgs is carried by Tx/Rx: the raw bytes that crossed the wire.
type BufferArgs struct {
	Source string
	Buffer []byte
}

// ErrorArgs is carried by Error.
type ErrorArgs struct {
	Source string
	Code   interface{ String() string }
	Text   string
}

// ConnArgs is carried by NewConnection/CloseConnection.
type ConnArgs struct {
	Listener string
	Remote   string
}

// Slot is a subscriber callback. It receives whichever *Args value matches
// the Name it was connected under.
type Slot func(args any)

// Registry is an insertion-ordered, snapshot-on-emit callback table. Emit
// takes a snapshot of the current subscriber list before calling out, so a
// slot that connects or disconnects during emission never races the
// in-flight dispatch.
type Registry struct {
	mu    sync.Mutex
	slots map[Name][]entry
	seq   int
}

type entry struct {
	id   int
	slot Slot
}

// NewRegistry returns an empty signal registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[Name][]entry)}
}

// Connect subscribes slot to name and returns a token usable with
// Disconnect.
func (r *Registry) Connect(name Name, slot Slot) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := r.seq
	r.slots[name] = append(r.slots[name], entry{id: id, slot: slot})
	return id
}

// Disconnect removes the subscriber identified by the token Connect
// returned.
func (r *Registry) Disconnect(name Name, token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.slots[name]
	for i, e := range list {
		if e.id == token {
			r.slots[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit calls every slot currently connected to name, in connection order,
// with args. The subscriber list is snapshotted before the first call.
func (r *Registry) Emit(name Name, args any) {
	r.mu.Lock()
	list := r.slots[name]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	r.mu.Unlock()

	for _, e := range snapshot {
		e.slot(args)
	}
}
