// Package presence tracks who is connected to which document right now.
// Everything here is process-local and ephemeral: a restart rebuilds the
// registry empty and clients re-register on reconnect.
package presence

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Participant exists only while its connection is open. It is never
// persisted.
type Participant struct {
	ConnID   string
	UserID   string
	Name     string
	ReadOnly bool
	JoinedAt time.Time
}

// NewConnID returns a sortable unique identity for one connection instance.
// A reconnect gets a fresh id; the old instance is terminal.
func NewConnID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Registry holds the live participant sets keyed by document name.
type Registry struct {
	mu       sync.Mutex
	docs     map[string]map[string]Participant
	onChange func(doc string, online int)
}

func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]map[string]Participant)}
}

// OnChange registers a single observer notified after every join/leave with
// the new online count. Must be set before the registry is shared.
func (r *Registry) OnChange(fn func(doc string, online int)) {
	r.onChange = fn
}

func (r *Registry) Join(doc string, p Participant) {
	r.mu.Lock()
	set, ok := r.docs[doc]
	if !ok {
		set = make(map[string]Participant)
		r.docs[doc] = set
	}
	set[p.ConnID] = p
	online := len(set)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(doc, online)
	}
}

func (r *Registry) Leave(doc, connID string) {
	r.mu.Lock()
	set, ok := r.docs[doc]
	if ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.docs, doc)
		}
	}
	online := len(set)
	r.mu.Unlock()

	if ok && r.onChange != nil {
		r.onChange(doc, online)
	}
}

func (r *Registry) Count(doc string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs[doc])
}

func (r *Registry) List(doc string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.docs[doc]
	out := make([]Participant, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}
