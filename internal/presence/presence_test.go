package presence

import (
	"testing"
	"time"
)

func TestRegistryJoinLeaveCounts(t *testing.T) {
	r := NewRegistry()

	r.Join("doc-1", Participant{ConnID: "c1", Name: "Ada"})
	r.Join("doc-1", Participant{ConnID: "c2", Name: "Ben"})
	r.Join("doc-2", Participant{ConnID: "c3", Name: "Cy"})

	if got := r.Count("doc-1"); got != 2 {
		t.Errorf("doc-1 count = %d, want 2", got)
	}
	if got := r.Count("doc-2"); got != 1 {
		t.Errorf("doc-2 count = %d, want 1", got)
	}

	r.Leave("doc-1", "c1")
	if got := r.Count("doc-1"); got != 1 {
		t.Errorf("doc-1 count after leave = %d, want 1", got)
	}

	r.Leave("doc-1", "c2")
	if got := r.Count("doc-1"); got != 0 {
		t.Errorf("doc-1 count after all left = %d, want 0", got)
	}
}

func TestRegistryRejoinSameConnIDIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Join("doc-1", Participant{ConnID: "c1"})
	r.Join("doc-1", Participant{ConnID: "c1"})
	if got := r.Count("doc-1"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestRegistryOnChangeObserver(t *testing.T) {
	r := NewRegistry()
	var docs []string
	var counts []int
	r.OnChange(func(doc string, online int) {
		docs = append(docs, doc)
		counts = append(counts, online)
	})

	r.Join("doc-1", Participant{ConnID: "c1"})
	r.Join("doc-1", Participant{ConnID: "c2"})
	r.Leave("doc-1", "c1")
	// Leaving a document nobody joined must not notify.
	r.Leave("doc-9", "cx")

	want := []int{1, 2, 1}
	if len(counts) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(counts), len(want))
	}
	for i := range want {
		if counts[i] != want[i] || docs[i] != "doc-1" {
			t.Errorf("notification %d = (%s,%d), want (doc-1,%d)", i, docs[i], counts[i], want[i])
		}
	}
}

func TestNewConnIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewConnID()
		if seen[id] {
			t.Fatalf("duplicate conn id %s", id)
		}
		seen[id] = true
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	var seen []ConnStatus
	tr.OnChange(func(s ConnStatus) { seen = append(seen, s) })

	tr.Connecting()
	tr.Connected()
	tr.MarkSynced(time.Now())
	tr.MarkSyncing()
	tr.MarkSynced(time.Now())
	tr.Disconnected()

	want := []ConnStatus{StatusConnecting, StatusConnected, StatusSyncing, StatusSynced, StatusSyncing, StatusSynced, StatusDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestTrackerIllegalTransitionsIgnored(t *testing.T) {
	tr := NewTracker()
	tr.Connected() // not connecting yet
	if got := tr.Snapshot(0).ConnectionStatus; got != StatusDisconnected {
		t.Errorf("status = %v, want disconnected", got)
	}

	tr.Connecting()
	tr.MarkSynced(time.Now()) // cannot sync before transport is up
	if got := tr.Snapshot(0).ConnectionStatus; got != StatusConnecting {
		t.Errorf("status = %v, want connecting", got)
	}
}

func TestTrackerDisconnectIsTerminal(t *testing.T) {
	tr := NewTracker()
	tr.Connecting()
	tr.Connected()
	tr.Disconnected()
	tr.MarkSynced(time.Now())
	snap := tr.Snapshot(0)
	if snap.IsConnected || snap.IsSynced {
		t.Errorf("snapshot after disconnect = %+v, want disconnected", snap)
	}
}

func TestStatusText(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	cases := []struct {
		name string
		snap Snapshot
		want string
	}{
		{"offline", Snapshot{}, "offline"},
		{"connected not synced", Snapshot{IsConnected: true}, "syncing..."},
		{"just synced", Snapshot{IsConnected: true, IsSynced: true, LastSyncTime: at(2 * time.Second)}, "just synced"},
		{"seconds", Snapshot{IsConnected: true, IsSynced: true, LastSyncTime: at(42 * time.Second)}, "synced 42s ago"},
		{"minutes", Snapshot{IsConnected: true, IsSynced: true, LastSyncTime: at(3 * time.Minute)}, "synced 3m ago"},
		{"offline wins over stale sync", Snapshot{IsSynced: true, LastSyncTime: at(time.Second)}, "offline"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusText(tc.snap, now); got != tc.want {
				t.Errorf("StatusText = %q, want %q", got, tc.want)
			}
		})
	}
}
