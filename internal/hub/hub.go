// Package hub is the composition root of the collaboration server. It owns
// the connection lifecycle end to end: admission, document load, presence,
// the serialized per-document apply path, fan-out, and debounced persistence.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"slate/collab/internal/gate"
	"slate/collab/internal/presence"
	"slate/collab/internal/search"
	"slate/collab/internal/store"
)

type dataStore interface {
	GetDocument(ctx context.Context, name string) (store.Document, error)
	SaveDocument(ctx context.Context, name string, data []byte, updatedAt time.Time) error
	GetView(ctx context.Context, id string) (store.View, error)
	UpdateViewData(ctx context.Context, id, data string) error
	ListViewsByType(ctx context.Context, viewType string) ([]store.View, error)
	CreateViewObject(ctx context.Context, obj store.ViewObject) (store.ViewObject, error)
	UpdateViewObject(ctx context.Context, id, name, data, updatedBy string) error
	DeleteViewObject(ctx context.Context, id string) error
	FindViewObject(ctx context.Context, id string) (store.ViewObject, error)
	FindViewObjectsByViewID(ctx context.Context, viewID string) ([]store.ViewObject, error)
}

type historian interface {
	Record(document string, state []byte, author string) error
}

type indexer interface {
	IndexViewObject(rec search.ViewObjectRecord)
	DeleteViewObject(id string)
}

// Options tune persistence pacing; zero values get defaults.
type Options struct {
	SaveDebounce time.Duration
	// Bridge connects sessions across instances via redis pub/sub. Nil
	// keeps fan-out process-local.
	Bridge *redis.Client
}

type Hub struct {
	store    dataStore
	registry *presence.Registry
	history  historian
	index    indexer
	debounce time.Duration
	bridge   *bridge

	mu       sync.Mutex
	sessions map[string]*DocSession
	closed   bool

	wg sync.WaitGroup
}

var errShuttingDown = errors.New("hub is shutting down")

func New(dataStore dataStore, registry *presence.Registry, history historian, index indexer, opts Options) *Hub {
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = 500 * time.Millisecond
	}
	h := &Hub{
		store:    dataStore,
		registry: registry,
		history:  history,
		index:    index,
		debounce: opts.SaveDebounce,
		sessions: make(map[string]*DocSession),
	}
	if opts.Bridge != nil {
		h.bridge = newBridge(opts.Bridge)
	}
	return h
}

// Join runs the full connect sequence: gate decision (already folded into
// grant), load-or-create the document, register presence, and hand the new
// participant the authoritative state. The returned Conn's Frames channel
// carries the init frame and everything after it.
func (h *Hub) Join(ctx context.Context, doc string, grant gate.Grant) (*Conn, error) {
	session, err := h.session(ctx, doc)
	if err != nil {
		return nil, err
	}

	conn := newConn(doc, grant)
	conn.Tracker.Connecting()

	if !session.do(func() { session.join(conn) }) {
		return nil, errShuttingDown
	}
	return conn, nil
}

// Leave deregisters the participant. The document stays loaded: a reconnect
// must resume from the exact current state.
func (h *Hub) Leave(conn *Conn) {
	h.mu.Lock()
	session := h.sessions[conn.Doc]
	h.mu.Unlock()
	if session == nil {
		return
	}
	session.do(func() { session.leave(conn) })
}

// Deliver routes one client frame into the document's serialized apply path.
func (h *Hub) Deliver(conn *Conn, frame Frame) {
	h.mu.Lock()
	session := h.sessions[conn.Doc]
	h.mu.Unlock()
	if session == nil {
		return
	}
	switch frame.Type {
	case FrameOp:
		if frame.Op == nil {
			conn.push(errorFrame(conn.Doc, codeInvalidPayload, "op frame without op"))
			return
		}
		op := *frame.Op
		session.do(func() { session.applyOp(conn, op) })
	case FrameCanvas:
		if frame.Canvas == nil {
			conn.push(errorFrame(conn.Doc, codeInvalidPayload, "canvas frame without operation"))
			return
		}
		op := *frame.Canvas
		session.do(func() { session.applyCanvas(conn, op) })
	default:
		conn.push(errorFrame(conn.Doc, codeInvalidPayload, fmt.Sprintf("unexpected frame type %q", frame.Type)))
	}
}

// Online reports the current participant count for a document.
func (h *Hub) Online(doc string) int {
	return h.registry.Count(doc)
}

func (h *Hub) session(ctx context.Context, doc string) (*DocSession, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errShuttingDown
	}
	if session, ok := h.sessions[doc]; ok {
		h.mu.Unlock()
		return session, nil
	}
	h.mu.Unlock()

	// Load outside the hub lock; persistence may be slow. First touch of an
	// unknown name creates the document on write, so NotFound starts empty.
	var stored store.Document
	err := store.Retry(ctx, func(ctx context.Context) error {
		var getErr error
		stored, getErr = h.store.GetDocument(ctx, doc)
		return getErr
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load document %s: %w", doc, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errShuttingDown
	}
	if session, ok := h.sessions[doc]; ok {
		// Lost the race; the winner's state is authoritative.
		return session, nil
	}
	session := newDocSession(h, doc, stored.Data)
	h.sessions[doc] = session
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		session.run()
	}()
	if h.bridge != nil {
		h.bridge.attach(session)
	}
	return session, nil
}

// ReconcileViews repairs whiteboard views whose object-id list drifted from
// the view_objects rows (the accepted best-effort linking semantics). It is
// safe to run concurrently with live editing: the list is derived purely
// from store rows.
func (h *Hub) ReconcileViews(ctx context.Context) error {
	views, err := h.store.ListViewsByType(ctx, "whiteboard")
	if err != nil {
		return fmt.Errorf("list whiteboard views: %w", err)
	}
	for _, view := range views {
		objs, err := h.store.FindViewObjectsByViewID(ctx, view.ID)
		if err != nil {
			return fmt.Errorf("list objects of view %s: %w", view.ID, err)
		}
		ids := make([]string, 0, len(objs))
		for _, obj := range objs {
			ids = append(ids, obj.ID)
		}
		want, err := encodeViewData(ids)
		if err != nil {
			return err
		}
		if viewObjectIDsEqual(view.Data, ids) {
			continue
		}
		if err := h.store.UpdateViewData(ctx, view.ID, want); err != nil {
			log.Printf("hub: reconcile view %s: %v", view.ID, err)
			continue
		}
		log.Printf("hub: reconciled object list of view %s (%d objects)", view.ID, len(ids))
	}
	return nil
}

// RunReconcileLoop sweeps on the given interval until ctx is done.
func (h *Hub) RunReconcileLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.ReconcileViews(ctx); err != nil {
				log.Printf("hub: reconcile sweep: %v", err)
			}
		}
	}
}

// Shutdown stops admitting connections, flushes pending persistence, and
// waits for the session loops to drain.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*DocSession, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
	if h.bridge != nil {
		h.bridge.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown flush interrupted: %w", ctx.Err())
	}
}

type viewData struct {
	ObjectIDs []string `json:"objectIds"`
}

func encodeViewData(ids []string) (string, error) {
	data, err := json.Marshal(viewData{ObjectIDs: ids})
	if err != nil {
		return "", fmt.Errorf("encode view data: %w", err)
	}
	return string(data), nil
}

// decodeViewData tolerates legacy blobs: anything unparseable reads as an
// empty list instead of failing the view.
func decodeViewData(data string) []string {
	var parsed viewData
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return nil
	}
	return parsed.ObjectIDs
}

func viewObjectIDsEqual(data string, ids []string) bool {
	current := decodeViewData(data)
	if len(current) != len(ids) {
		return false
	}
	seen := make(map[string]int, len(current))
	for _, id := range current {
		seen[id]++
	}
	for _, id := range ids {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}
