package presence

import (
	"fmt"
	"sync"
	"time"
)

type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
	StatusSyncing
	StatusSynced
)

func (s ConnStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusSyncing:
		return "syncing"
	case StatusSynced:
		return "synced"
	default:
		return "disconnected"
	}
}

// Snapshot is the observable sync state of one connection at one instant.
type Snapshot struct {
	IsConnected      bool
	IsSynced         bool
	ConnectionStatus ConnStatus
	OnlineUsers      int
	LastSyncTime     *time.Time
}

// Tracker is the per-connection state machine:
//
//	disconnected → connecting → connected → (syncing ⇄ synced) → disconnected
//
// Disconnection is terminal for the instance; a reconnect starts a fresh
// Tracker at connecting.
type Tracker struct {
	mu       sync.Mutex
	status   ConnStatus
	lastSync time.Time
	onChange func(ConnStatus)
}

func NewTracker() *Tracker {
	return &Tracker{status: StatusDisconnected}
}

// OnChange registers a single transition observer. Must be set before the
// tracker is shared.
func (t *Tracker) OnChange(fn func(ConnStatus)) {
	t.onChange = fn
}

func (t *Tracker) transition(next ConnStatus) {
	t.status = next
	if t.onChange != nil {
		t.onChange(next)
	}
}

func (t *Tracker) Connecting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusDisconnected {
		return
	}
	t.transition(StatusConnecting)
}

// Connected records transport establishment. No state has been handed over
// yet, so the connection moves straight on to syncing.
func (t *Tracker) Connected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusConnecting {
		return
	}
	t.transition(StatusConnected)
	t.transition(StatusSyncing)
}

// MarkSynced records server confirmation that the client's merge-state
// matches the authoritative state.
func (t *Tracker) MarkSynced(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusSyncing && t.status != StatusSynced {
		return
	}
	t.lastSync = at
	t.transition(StatusSynced)
}

// MarkSyncing records local edits not yet confirmed against the
// authoritative state.
func (t *Tracker) MarkSyncing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusSynced {
		return
	}
	t.transition(StatusSyncing)
}

// Disconnected is terminal for this tracker instance.
func (t *Tracker) Disconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusDisconnected {
		return
	}
	t.transition(StatusDisconnected)
}

func (t *Tracker) Snapshot(online int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		ConnectionStatus: t.status,
		IsConnected:      t.status == StatusConnected || t.status == StatusSyncing || t.status == StatusSynced,
		IsSynced:         t.status == StatusSynced,
		OnlineUsers:      online,
	}
	if !t.lastSync.IsZero() {
		last := t.lastSync
		snap.LastSyncTime = &last
	}
	return snap
}

// StatusText renders a human-readable status purely from the snapshot and
// the current time. Nothing is stored.
func StatusText(snap Snapshot, now time.Time) string {
	if !snap.IsConnected {
		return "offline"
	}
	if !snap.IsSynced || snap.LastSyncTime == nil {
		return "syncing..."
	}
	since := now.Sub(*snap.LastSyncTime)
	switch {
	case since < 5*time.Second:
		return "just synced"
	case since < time.Minute:
		return fmt.Sprintf("synced %ds ago", int(since.Seconds()))
	default:
		return fmt.Sprintf("synced %dm ago", int(since.Minutes()))
	}
}
