package crdt

import (
	"encoding/json"
	"testing"
)

func op(id string, clock uint64, actor, value string) Op {
	o := Op{ID: id, Clock: clock, Actor: actor}
	if value != "" {
		o.Value = json.RawMessage(`"` + value + `"`)
	}
	return o
}

func del(id string, clock uint64, actor string) Op {
	return Op{ID: id, Clock: clock, Actor: actor, Delete: true}
}

func mergeAll(ops []Op) State {
	s := NewState()
	for _, o := range ops {
		s = Merge(s, o)
	}
	return s
}

func digest(t *testing.T, s State) string {
	t.Helper()
	d, err := Digest(s)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	return d
}

// permutations generates every ordering of ops.
func permutations(ops []Op) [][]Op {
	if len(ops) <= 1 {
		return [][]Op{append([]Op(nil), ops...)}
	}
	var out [][]Op
	for i := range ops {
		rest := make([]Op, 0, len(ops)-1)
		rest = append(rest, ops[:i]...)
		rest = append(rest, ops[i+1:]...)
		for _, perm := range permutations(rest) {
			out = append(out, append([]Op{ops[i]}, perm...))
		}
	}
	return out
}

func TestMergeConvergesUnderAnyDeliveryOrder(t *testing.T) {
	ops := []Op{
		op("a", 1, "alice", "circle"),
		op("a", 2, "bob", "square"),
		del("b", 2, "alice"),
		op("b", 1, "bob", "line"),
		op("c", 1, "carol", "dot"),
	}

	want := digest(t, mergeAll(ops))
	for i, perm := range permutations(ops) {
		if got := digest(t, mergeAll(perm)); got != want {
			t.Fatalf("permutation %d diverged: %s != %s", i, got, want)
		}
	}
}

func TestMergeIdempotent(t *testing.T) {
	o := op("a", 3, "alice", "circle")
	s := Merge(NewState(), o)
	before := digest(t, s)
	s = Merge(s, o)
	if after := digest(t, s); after != before {
		t.Errorf("re-applying the same op changed state: %s != %s", after, before)
	}
}

func TestDeleteWinsTieAtSameClock(t *testing.T) {
	a := mergeAll([]Op{op("x", 2, "zed", "v"), del("x", 2, "alice")})
	b := mergeAll([]Op{del("x", 2, "alice"), op("x", 2, "zed", "v")})
	if a.Live("x") || b.Live("x") {
		t.Error("delete must win a same-clock conflict in both orders")
	}
	if digest(t, a) != digest(t, b) {
		t.Error("orders diverged")
	}
}

func TestTombstoneBlocksLateCreate(t *testing.T) {
	s := mergeAll([]Op{op("x", 1, "alice", "v"), del("x", 2, "bob"), op("x", 1, "carol", "w")})
	if s.Live("x") {
		t.Error("a late create with an older clock resurrected a tombstone")
	}
}

func TestLiveIDsAndValue(t *testing.T) {
	s := mergeAll([]Op{
		op("a", 1, "alice", "one"),
		op("b", 1, "alice", "two"),
		del("b", 2, "alice"),
	})
	ids := s.LiveIDs()
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("LiveIDs = %v, want [a]", ids)
	}
	v, ok := s.Value("a")
	if !ok || string(v) != `"one"` {
		t.Errorf("Value(a) = %s/%v", v, ok)
	}
	if _, ok := s.Value("b"); ok {
		t.Error("tombstoned element must have no value")
	}
}

func TestNextClockAdvances(t *testing.T) {
	s := NewState()
	if got := s.NextClock("a"); got != 1 {
		t.Errorf("NextClock on fresh id = %d, want 1", got)
	}
	s = Merge(s, op("a", 4, "alice", "v"))
	if got := s.NextClock("a"); got != 5 {
		t.Errorf("NextClock = %d, want 5", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := mergeAll([]Op{op("a", 1, "alice", "one"), del("b", 3, "bob")})
	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if digest(t, decoded) != digest(t, s) {
		t.Error("round trip changed state")
	}
}

func TestEncodeDeterministic(t *testing.T) {
	s := mergeAll([]Op{op("z", 1, "a", "1"), op("y", 1, "a", "2"), op("x", 1, "a", "3")})
	first, _ := Encode(s)
	second, _ := Encode(s)
	if string(first) != string(second) {
		t.Error("encoding is not canonical")
	}
}

func TestDecodeLegacyBlobFallsBack(t *testing.T) {
	for _, blob := range [][]byte{
		[]byte("not json"),
		[]byte(`{"version":99,"elements":{}}`),
	} {
		s, err := Decode(blob)
		if err == nil {
			t.Errorf("Decode(%q) expected parse error", blob)
		}
		// Fallback state must still be usable.
		s = Merge(s, op("a", 1, "alice", "v"))
		if !s.Live("a") {
			t.Error("fallback state is not usable")
		}
	}
}

func TestDecodeEmptyIsFreshState(t *testing.T) {
	s, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if len(s.LiveIDs()) != 0 {
		t.Error("empty blob must decode to an empty state")
	}
}
