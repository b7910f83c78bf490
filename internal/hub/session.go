package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"slate/collab/internal/canvas"
	"slate/collab/internal/crdt"
	"slate/collab/internal/presence"
	"slate/collab/internal/search"
	"slate/collab/internal/store"
)

const (
	taskBuffer      = 256
	storeTaskBuffer = 256
	storeOpTimeout  = 10 * time.Second
)

// DocSession owns one document's authoritative in-memory state. All
// mutations flow through the tasks channel and execute on a single
// goroutine, so writes to one document are serialized while different
// documents proceed in parallel. A joining participant's snapshot is a task
// too, so it can never observe a half-applied write.
type DocSession struct {
	hub  *Hub
	name string

	tasks      chan func()
	storeTasks chan func(context.Context)
	quit       chan struct{}
	closeOnce  sync.Once

	// Owned by the run goroutine.
	state       crdt.State
	canvas      *canvas.Canvas
	conns       map[string]*Conn
	savePending bool
	modified    bool

	// Latest snapshot awaiting persistence; the persister always takes the
	// newest one, coalescing bursts into a single save.
	saveMu     sync.Mutex
	saveData   []byte
	saveDirty  bool
	saveBy     string
	saveOrigin *Conn
	saveNotify chan struct{}
}

func newDocSession(h *Hub, name string, persisted []byte) *DocSession {
	state, err := crdt.Decode(persisted)
	if err != nil {
		// Legacy or corrupt blob: start from the empty fallback state
		// rather than refusing the document.
		log.Printf("hub: document %s: %v, starting from empty state", name, err)
	}
	s := &DocSession{
		hub:        h,
		name:       name,
		tasks:      make(chan func(), taskBuffer),
		storeTasks: make(chan func(context.Context), storeTaskBuffer),
		quit:       make(chan struct{}),
		state:      state,
		canvas:     canvas.New(name),
		conns:      make(map[string]*Conn),
		saveNotify: make(chan struct{}, 1),
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.persister()
	}()
	go func() {
		defer h.wg.Done()
		s.storeWorker()
	}()
	return s
}

// do enqueues a task on the serialized apply path. Returns false once the
// session is closing.
func (s *DocSession) do(task func()) bool {
	select {
	case <-s.quit:
		return false
	case s.tasks <- task:
		return true
	}
}

func (s *DocSession) close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

func (s *DocSession) run() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.quit:
			for {
				select {
				case task := <-s.tasks:
					task()
				default:
					// Final flush. A document that never changed is not
					// rewritten: a legacy blob that failed to decode must
					// not be clobbered by the empty fallback state.
					if s.modified {
						s.snapshot()
					}
					close(s.saveNotify)
					close(s.storeTasks)
					return
				}
			}
		}
	}
}

func (s *DocSession) join(conn *Conn) {
	s.conns[conn.ID] = conn
	conn.Tracker.Connected()
	s.hub.registry.Join(s.name, presence.Participant{
		ConnID:   conn.ID,
		UserID:   conn.Grant.UserID,
		Name:     conn.displayName(),
		ReadOnly: conn.Grant.ReadOnly,
		JoinedAt: time.Now(),
	})
	online := s.hub.registry.Count(s.name)

	s.pushInit(conn, online)
	conn.Tracker.MarkSynced(time.Now())

	s.broadcast(conn, Frame{
		Type: FramePresence, Doc: s.name,
		Event: "join", User: conn.displayName(), Online: online,
	})
}

func (s *DocSession) leave(conn *Conn) {
	if _, ok := s.conns[conn.ID]; !ok {
		return
	}
	delete(s.conns, conn.ID)
	s.hub.registry.Leave(s.name, conn.ID)
	conn.Tracker.Disconnected()

	online := s.hub.registry.Count(s.name)
	s.broadcast(nil, Frame{
		Type: FramePresence, Doc: s.name,
		Event: "leave", User: conn.displayName(), Online: online,
	})
}

func (s *DocSession) pushInit(conn *Conn, online int) {
	encoded, err := crdt.Encode(s.state)
	if err != nil {
		log.Printf("hub: encode state of %s: %v", s.name, err)
		return
	}
	digest, err := crdt.Digest(s.state)
	if err != nil {
		log.Printf("hub: digest state of %s: %v", s.name, err)
		return
	}
	conn.push(Frame{Type: FrameInit, Doc: s.name, State: encoded, Digest: digest, Online: online})
}

// reject refuses a write and re-sends the authoritative state so the
// client's optimistic local state reconciles back to server truth.
func (s *DocSession) reject(conn *Conn, code, message string) {
	conn.push(errorFrame(s.name, code, message))
	s.pushInit(conn, s.hub.registry.Count(s.name))
}

func (s *DocSession) applyOp(conn *Conn, op crdt.Op) {
	if conn.Grant.ReadOnly {
		s.reject(conn, codePermissionDenied, "connection is read-only")
		return
	}
	conn.Tracker.MarkSyncing()

	s.state = crdt.Merge(s.state, op)
	s.mirrorOp(op)
	s.markDirty(conn)

	frame := Frame{Type: FrameOp, Doc: s.name, Op: &op}
	s.broadcast(conn, frame)
	s.publish(frame)

	s.ackSynced(conn)
}

// mirrorOp keeps the canvas freeform map aligned with the CRDT body.
func (s *DocSession) mirrorOp(op crdt.Op) {
	if !s.state.Live(op.ID) {
		s.canvas.Remove(op.ID)
		return
	}
	value, _ := s.state.Value(op.ID)
	if err := s.canvas.PutCanvasObject(op.ID, value); err != nil {
		log.Printf("hub: document %s: op for %s collides with a view object", s.name, op.ID)
	}
}

func (s *DocSession) ackSynced(conn *Conn) {
	digest, err := crdt.Digest(s.state)
	if err != nil {
		log.Printf("hub: digest state of %s: %v", s.name, err)
		return
	}
	conn.push(Frame{Type: FrameSynced, Doc: s.name, Digest: digest})
	conn.Tracker.MarkSynced(time.Now())
}

func (s *DocSession) applyCanvas(conn *Conn, op canvas.Op) {
	if conn.Grant.ReadOnly {
		s.reject(conn, codePermissionDenied, "connection is read-only")
		return
	}
	if op.ViewID == "" {
		op.ViewID = s.name
	}

	switch op.Type {
	case canvas.OpCreateCanvasObject:
		s.applyCreateCanvas(conn, op)
	case canvas.OpDeleteCanvasObject:
		s.applyDeleteCanvas(conn, op)
	case canvas.OpCreateViewObject:
		s.applyCreateViewObject(conn, op)
	case canvas.OpUpdateViewObject:
		s.applyUpdateViewObject(conn, op)
	case canvas.OpDeleteViewObject:
		s.applyDeleteViewObject(conn, op)
	default:
		conn.push(errorFrame(s.name, codeInvalidPayload, "unknown canvas operation"))
	}
}

// Freeform create/update folds into the CRDT body; convergence comes from
// the merge primitive, no dedicated update message exists.
func (s *DocSession) applyCreateCanvas(conn *Conn, op canvas.Op) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if s.canvas.KindOf(op.ID) == canvas.KindViewObject {
		conn.push(errorFrame(s.name, codeInvalidPayload, "id belongs to a view object"))
		return
	}
	crdtOp := crdt.Op{
		ID:    op.ID,
		Clock: s.state.NextClock(op.ID),
		Actor: conn.ID,
		Value: op.Data,
	}
	s.state = crdt.Merge(s.state, crdtOp)
	_ = s.canvas.PutCanvasObject(op.ID, op.Data)
	s.markDirty(conn)

	frame := Frame{Type: FrameCanvas, Doc: s.name, Canvas: &op}
	s.broadcast(conn, frame)
	s.publish(frame)
	s.ackSynced(conn)
}

func (s *DocSession) applyDeleteCanvas(conn *Conn, op canvas.Op) {
	if s.canvas.KindOf(op.ID) == canvas.KindViewObject {
		conn.push(errorFrame(s.name, codeInvalidPayload, "id belongs to a view object"))
		return
	}
	crdtOp := crdt.Op{
		ID:     op.ID,
		Clock:  s.state.NextClock(op.ID),
		Actor:  conn.ID,
		Delete: true,
	}
	s.state = crdt.Merge(s.state, crdtOp)
	s.canvas.Remove(op.ID)
	s.markDirty(conn)

	frame := Frame{Type: FrameCanvas, Doc: s.name, Canvas: &op}
	s.broadcast(conn, frame)
	s.publish(frame)
	s.ackSynced(conn)
}

func (s *DocSession) applyCreateViewObject(conn *Conn, op canvas.Op) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.Data = []byte(canvas.SanitizePayload(op.ObjectType, string(op.Data)))
	if err := s.canvas.PutViewObject(canvas.ViewObjectState{
		ID:   op.ID,
		Name: op.Name,
		Type: op.ObjectType,
		Data: op.Data,
	}); err != nil {
		conn.push(errorFrame(s.name, codeInvalidPayload, "id belongs to a canvas object"))
		return
	}
	op.UpdatedBy = conn.displayName()

	// The origin needs the assigned id too, so this broadcast includes it.
	frame := Frame{Type: FrameCanvas, Doc: s.name, Canvas: &op}
	s.broadcast(nil, frame)
	s.publish(frame)

	obj := store.ViewObject{
		ID:        op.ID,
		ViewID:    op.ViewID,
		Name:      op.Name,
		Type:      op.ObjectType,
		Data:      string(op.Data),
		CreatedBy: conn.displayName(),
	}
	s.enqueueStore(func(ctx context.Context) {
		created, err := createWithRetry(ctx, s.hub.store, obj)
		if err != nil {
			log.Printf("hub: create view object %s: %v", obj.ID, err)
			conn.push(errorFrame(s.name, codeStorageUnavailable, "view object creation not persisted"))
			return
		}
		if s.hub.index != nil {
			s.hub.index.IndexViewObject(search.ViewObjectRecord{
				ID:         created.ID,
				Name:       created.Name,
				ObjectType: created.Type,
				ViewID:     created.ViewID,
			})
		}
		// Best-effort reference linking: the object is already valid and
		// fetchable by id; a failed link leaves the view list temporarily
		// incomplete until the reconcile sweep.
		if err := s.linkViewObject(ctx, created.ViewID, created.ID); err != nil {
			log.Printf("hub: link view object %s into view %s: %v", created.ID, created.ViewID, err)
			conn.push(errorFrame(s.name, codeConflictingReference, "view object created but not linked into its view"))
		}
	})
}

func (s *DocSession) applyUpdateViewObject(conn *Conn, op canvas.Op) {
	if s.canvas.KindOf(op.ID) != canvas.KindViewObject {
		// Deleted by a concurrent peer; the delete wins over this update.
		removal := canvas.Op{Type: canvas.OpDeleteViewObject, ID: op.ID, ViewID: op.ViewID}
		conn.push(Frame{Type: FrameCanvas, Doc: s.name, Canvas: &removal})
		return
	}
	op.Data = []byte(canvas.SanitizePayload(op.ObjectType, string(op.Data)))
	op.UpdatedBy = conn.displayName()
	_ = s.canvas.PutViewObject(canvas.ViewObjectState{
		ID:   op.ID,
		Name: op.Name,
		Type: op.ObjectType,
		Data: op.Data,
	})

	frame := Frame{Type: FrameCanvas, Doc: s.name, Canvas: &op}
	s.broadcast(conn, frame)
	s.publish(frame)

	id, name, data, updatedBy := op.ID, op.Name, string(op.Data), op.UpdatedBy
	s.enqueueStore(func(ctx context.Context) {
		err := store.Retry(ctx, func(ctx context.Context) error {
			return s.hub.store.UpdateViewObject(ctx, id, name, data, updatedBy)
		})
		if errors.Is(err, store.ErrNotFound) {
			// Row already deleted by a peer; drop the stale mirror entry and
			// reconcile everyone to the deletion.
			conn.push(errorFrame(s.name, codeNotFound, "view object no longer exists"))
			s.do(func() {
				s.canvas.Remove(id)
				removal := canvas.Op{Type: canvas.OpDeleteViewObject, ID: id, ViewID: op.ViewID}
				s.broadcast(nil, Frame{Type: FrameCanvas, Doc: s.name, Canvas: &removal})
			})
			return
		}
		if err != nil {
			log.Printf("hub: update view object %s: %v", id, err)
			conn.push(errorFrame(s.name, codeStorageUnavailable, "view object update not persisted"))
			return
		}
		if s.hub.index != nil {
			s.hub.index.IndexViewObject(search.ViewObjectRecord{ID: id, Name: name, ViewID: op.ViewID})
		}
	})
}

func (s *DocSession) applyDeleteViewObject(conn *Conn, op canvas.Op) {
	s.canvas.Remove(op.ID)

	frame := Frame{Type: FrameCanvas, Doc: s.name, Canvas: &op}
	s.broadcast(conn, frame)
	s.publish(frame)

	id, viewID := op.ID, op.ViewID
	s.enqueueStore(func(ctx context.Context) {
		err := store.Retry(ctx, func(ctx context.Context) error {
			return s.hub.store.DeleteViewObject(ctx, id)
		})
		if err != nil {
			log.Printf("hub: delete view object %s: %v", id, err)
			conn.push(errorFrame(s.name, codeStorageUnavailable, "view object deletion not persisted"))
			return
		}
		if s.hub.index != nil {
			s.hub.index.DeleteViewObject(id)
		}
		if err := s.unlinkViewObject(ctx, viewID, id); err != nil {
			log.Printf("hub: unlink view object %s from view %s: %v", id, viewID, err)
		}
	})
}

func (s *DocSession) linkViewObject(ctx context.Context, viewID, objectID string) error {
	view, err := s.hub.store.GetView(ctx, viewID)
	if err != nil {
		return err
	}
	ids := decodeViewData(view.Data)
	for _, id := range ids {
		if id == objectID {
			return nil
		}
	}
	data, err := encodeViewData(append(ids, objectID))
	if err != nil {
		return err
	}
	return s.hub.store.UpdateViewData(ctx, viewID, data)
}

func (s *DocSession) unlinkViewObject(ctx context.Context, viewID, objectID string) error {
	view, err := s.hub.store.GetView(ctx, viewID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	ids := decodeViewData(view.Data)
	kept := ids[:0]
	for _, id := range ids {
		if id != objectID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	data, err := encodeViewData(kept)
	if err != nil {
		return err
	}
	return s.hub.store.UpdateViewData(ctx, viewID, data)
}

// applyRemote folds a frame published by another instance into local state
// and forwards it to local participants. Store writes already happened on
// the origin instance.
func (s *DocSession) applyRemote(frame Frame) {
	switch frame.Type {
	case FrameOp:
		if frame.Op == nil {
			return
		}
		s.state = crdt.Merge(s.state, *frame.Op)
		s.mirrorOp(*frame.Op)
		s.markDirty(nil)
	case FrameCanvas:
		if frame.Canvas == nil {
			return
		}
		op := *frame.Canvas
		switch op.Type {
		case canvas.OpCreateCanvasObject:
			_ = s.canvas.PutCanvasObject(op.ID, op.Data)
		case canvas.OpDeleteCanvasObject:
			s.canvas.Remove(op.ID)
		case canvas.OpCreateViewObject, canvas.OpUpdateViewObject:
			_ = s.canvas.PutViewObject(canvas.ViewObjectState{ID: op.ID, Name: op.Name, Type: op.ObjectType, Data: op.Data})
		case canvas.OpDeleteViewObject:
			s.canvas.Remove(op.ID)
		}
	default:
		return
	}
	s.broadcast(nil, frame)
}

func (s *DocSession) broadcast(except *Conn, frame Frame) {
	for id, conn := range s.conns {
		if except != nil && id == except.ID {
			continue
		}
		conn.push(frame)
	}
}

func (s *DocSession) publish(frame Frame) {
	if s.hub.bridge != nil {
		s.hub.bridge.publish(s.name, frame)
	}
}

// markDirty schedules a debounced snapshot. Bursts of operations coalesce
// into one save; the persister never blocks this path.
func (s *DocSession) markDirty(origin *Conn) {
	s.modified = true
	s.saveMu.Lock()
	if origin != nil {
		s.saveOrigin = origin
		s.saveBy = origin.displayName()
	}
	s.saveMu.Unlock()

	if s.savePending {
		return
	}
	s.savePending = true
	time.AfterFunc(s.hub.debounce, func() {
		s.do(func() {
			s.savePending = false
			s.snapshot()
		})
	})
}

// snapshot encodes the loop-owned state and hands it to the persister.
// Runs on the loop goroutine, so it always captures a consistent state.
func (s *DocSession) snapshot() {
	encoded, err := crdt.Encode(s.state)
	if err != nil {
		log.Printf("hub: encode state of %s: %v", s.name, err)
		return
	}
	s.saveMu.Lock()
	s.saveData = encoded
	s.saveDirty = true
	s.saveMu.Unlock()

	select {
	case s.saveNotify <- struct{}{}:
	default:
	}
}

func (s *DocSession) persister() {
	for range s.saveNotify {
		s.persistLatest()
	}
	// Channel closed by the run loop after its final snapshot.
	s.persistLatest()
}

func (s *DocSession) persistLatest() {
	s.saveMu.Lock()
	if !s.saveDirty {
		s.saveMu.Unlock()
		return
	}
	data := s.saveData
	author := s.saveBy
	origin := s.saveOrigin
	s.saveDirty = false
	s.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	updatedAt := time.Now()
	err := store.Retry(ctx, func(ctx context.Context) error {
		return s.hub.store.SaveDocument(ctx, s.name, data, updatedAt)
	})
	if err != nil {
		// Peers already saw the operations; durability is at risk until
		// storage recovers, but editing continues.
		log.Printf("hub: persist document %s: %v", s.name, err)
		if origin != nil {
			origin.push(errorFrame(s.name, codeStorageUnavailable, "latest changes not yet persisted"))
		}
		return
	}
	if s.hub.history != nil {
		if err := s.hub.history.Record(s.name, data, author); err != nil {
			log.Printf("hub: record history of %s: %v", s.name, err)
		}
	}
}

// enqueueStore runs only on the loop goroutine. The channel closes after the
// loop drains, so a task accepted during shutdown still executes; the worker
// keeps consuming until then, so the send cannot block indefinitely.
func (s *DocSession) enqueueStore(task func(context.Context)) {
	s.storeTasks <- task
}

func (s *DocSession) storeWorker() {
	for task := range s.storeTasks {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		task(ctx)
		cancel()
	}
}

func createWithRetry(ctx context.Context, ds dataStore, obj store.ViewObject) (store.ViewObject, error) {
	var created store.ViewObject
	err := store.Retry(ctx, func(ctx context.Context) error {
		var createErr error
		created, createErr = ds.CreateViewObject(ctx, obj)
		return createErr
	})
	return created, err
}
