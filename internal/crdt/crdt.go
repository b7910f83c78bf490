// Package crdt is the replaceable merge primitive behind the document body.
// The rest of the system treats it as a black box: states encode to opaque
// bytes, and Merge is commutative and idempotent so replicas converge under
// any delivery order. The implementation here is a last-writer-wins element
// map with tombstones and per-element lamport clocks, which covers stroke and
// shape lists; swapping in a sequence CRDT only requires honoring the same
// contract.
package crdt

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrParse marks a stored blob that does not decode. Readers fall back to an
// empty state instead of aborting.
var ErrParse = errors.New("merge-state parse failure")

const envelopeVersion = 1

// Op is one commutative, idempotent mutation of a single element.
type Op struct {
	ID     string          `json:"id"`
	Clock  uint64          `json:"clock"`
	Actor  string          `json:"actor"`
	Delete bool            `json:"delete,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

type element struct {
	Clock   uint64          `json:"clock"`
	Actor   string          `json:"actor"`
	Deleted bool            `json:"deleted,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// State is a convergent element map. Deleted elements stay as tombstones so
// a late create cannot resurrect them.
type State struct {
	elements map[string]element
}

func NewState() State {
	return State{elements: make(map[string]element)}
}

// supersedes reports whether the op should replace the current element.
// Total order per element id: clock, then delete-over-write, then actor.
// Re-applying the winning op compares equal and changes nothing, which is
// what makes Merge idempotent.
func supersedes(op Op, el element) bool {
	if op.Clock != el.Clock {
		return op.Clock > el.Clock
	}
	if op.Delete != el.Deleted {
		return op.Delete
	}
	return op.Actor > el.Actor
}

// Merge folds op into s. Ops for different elements commute trivially; ops
// for the same element are ordered by supersedes, so any arrival order
// converges to the same state.
func Merge(s State, op Op) State {
	if s.elements == nil {
		s.elements = make(map[string]element)
	}
	el, ok := s.elements[op.ID]
	if ok && !supersedes(op, el) {
		return s
	}
	s.elements[op.ID] = element{
		Clock:   op.Clock,
		Actor:   op.Actor,
		Deleted: op.Delete,
		Value:   op.Value,
	}
	return s
}

// NextClock returns the clock a local mutation of id should carry.
func (s State) NextClock(id string) uint64 {
	return s.elements[id].Clock + 1
}

// Live reports whether id exists and is not a tombstone.
func (s State) Live(id string) bool {
	el, ok := s.elements[id]
	return ok && !el.Deleted
}

// Value returns the payload of a live element.
func (s State) Value(id string) (json.RawMessage, bool) {
	el, ok := s.elements[id]
	if !ok || el.Deleted {
		return nil, false
	}
	return el.Value, true
}

// LiveIDs returns the ids of all non-tombstoned elements, unordered.
func (s State) LiveIDs() []string {
	ids := make([]string, 0, len(s.elements))
	for id, el := range s.elements {
		if !el.Deleted {
			ids = append(ids, id)
		}
	}
	return ids
}

type envelope struct {
	Version  int                `json:"version"`
	Elements map[string]element `json:"elements"`
}

// Encode serializes the state to the opaque bytes the document store
// persists. The encoding is canonical (sorted keys), so equal states encode
// to equal bytes.
func Encode(s State) ([]byte, error) {
	data, err := json.Marshal(envelope{Version: envelopeVersion, Elements: s.elements})
	if err != nil {
		return nil, fmt.Errorf("encode merge-state: %w", err)
	}
	return data, nil
}

// Decode parses stored bytes back into a state. A blob that does not parse,
// or that carries an unknown version, returns ErrParse alongside an empty
// usable state; callers log and continue rather than failing the document.
func Decode(data []byte) (State, error) {
	if len(data) == 0 {
		return NewState(), nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return NewState(), fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.Version != envelopeVersion {
		return NewState(), fmt.Errorf("%w: unknown version %d", ErrParse, env.Version)
	}
	if env.Elements == nil {
		env.Elements = make(map[string]element)
	}
	return State{elements: env.Elements}, nil
}

// Digest is a stable fingerprint of the state, used to confirm that a
// client's replica matches the authoritative one.
func Digest(s State) (string, error) {
	data, err := Encode(s)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
