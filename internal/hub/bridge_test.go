package hub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"slate/collab/internal/crdt"
	"slate/collab/internal/gate"
	"slate/collab/internal/presence"
)

func newBridgedHub(t *testing.T, ms *memStore, addr string) *Hub {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	h := New(ms, presence.NewRegistry(), nil, nopIndexer{}, Options{
		SaveDebounce: 10 * time.Millisecond,
		Bridge:       client,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		_ = client.Close()
	})
	return h
}

func TestBridgeFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	// Two instances sharing one redis but separate stores, the way two
	// processes behind a load balancer would run.
	hub1 := newBridgedHub(t, newMemStore(), mr.Addr())
	hub2 := newBridgedHub(t, newMemStore(), mr.Addr())

	a, err := hub1.Join(context.Background(), "doc-1", gate.Grant{UserName: "Ada"})
	if err != nil {
		t.Fatalf("join instance 1: %v", err)
	}
	b, err := hub2.Join(context.Background(), "doc-1", gate.Grant{UserName: "Ben"})
	if err != nil {
		t.Fatalf("join instance 2: %v", err)
	}
	waitFrame(t, a, FrameInit)
	waitFrame(t, b, FrameInit)

	op := strokeOp("s1", 1, "ada-client")
	hub1.Deliver(a, Frame{Type: FrameOp, Op: &op})

	got := waitFrame(t, b, FrameOp)
	if got.Op == nil || got.Op.ID != "s1" {
		t.Fatalf("remote frame = %+v", got)
	}

	// The origin instance must not echo its own publication back.
	expectNoFrame(t, a, FrameOp, 60*time.Millisecond)

	// A late joiner on the remote instance sees the folded-in state.
	c, err := hub2.Join(context.Background(), "doc-1", gate.Grant{UserName: "Cy"})
	if err != nil {
		t.Fatalf("join instance 2 late: %v", err)
	}
	init := waitFrame(t, c, FrameInit)
	state, err := crdt.Decode(init.State)
	if err != nil {
		t.Fatalf("decode init state: %v", err)
	}
	if !state.Live("s1") {
		t.Error("remote instance state missing bridged op")
	}
}

func TestBridgeIsolatesDocuments(t *testing.T) {
	mr := miniredis.RunT(t)
	hub1 := newBridgedHub(t, newMemStore(), mr.Addr())
	hub2 := newBridgedHub(t, newMemStore(), mr.Addr())

	a, _ := hub1.Join(context.Background(), "doc-1", gate.Grant{UserName: "Ada"})
	b, _ := hub2.Join(context.Background(), "doc-2", gate.Grant{UserName: "Ben"})
	waitFrame(t, a, FrameInit)
	waitFrame(t, b, FrameInit)

	op := strokeOp("s1", 1, "ada-client")
	hub1.Deliver(a, Frame{Type: FrameOp, Op: &op})

	expectNoFrame(t, b, FrameOp, 80*time.Millisecond)
}
