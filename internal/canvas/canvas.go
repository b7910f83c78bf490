// Package canvas implements the sync protocol for spatial views. A whiteboard
// holds two disjoint keyspaces: freeform strokes that live only inside the
// document's merge-state, and structured view-objects that live in the
// view-object store. One kind registry is the authoritative owner of every id,
// so erase routing is a single lookup and an id can never sit in both maps.
package canvas

import (
	"encoding/json"
	"errors"
	"sync"
)

type Kind int

const (
	KindCanvas Kind = iota + 1
	KindViewObject
)

type OpType string

const (
	OpCreateCanvasObject OpType = "create_canvas_object"
	OpDeleteCanvasObject OpType = "delete_canvas_object"
	OpCreateViewObject   OpType = "create_view_object"
	OpUpdateViewObject   OpType = "update_view_object"
	OpDeleteViewObject   OpType = "delete_view_object"
)

// Op is one logical canvas wire operation, transport-agnostic.
type Op struct {
	Type       OpType          `json:"type"`
	ID         string          `json:"id"`
	ViewID     string          `json:"viewId"`
	Name       string          `json:"name,omitempty"`
	ObjectType string          `json:"objectType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	UpdatedBy  string          `json:"updatedBy,omitempty"`
}

// ViewObjectState is the in-memory mirror of a structured object placed on
// the canvas.
type ViewObjectState struct {
	ID   string
	Name string
	Type string
	Data json.RawMessage
}

// ErrIDInUse is returned when a create collides with an id the registry
// already owns under the other kind.
var ErrIDInUse = errors.New("object id already registered under a different kind")

// Canvas is the per-open-view protocol state, mirrored on every connected
// client.
type Canvas struct {
	viewID string

	mu            sync.Mutex
	kinds         map[string]Kind
	canvasObjects map[string]json.RawMessage
	viewObjects   map[string]ViewObjectState
}

func New(viewID string) *Canvas {
	return &Canvas{
		viewID:        viewID,
		kinds:         make(map[string]Kind),
		canvasObjects: make(map[string]json.RawMessage),
		viewObjects:   make(map[string]ViewObjectState),
	}
}

func (c *Canvas) ViewID() string {
	return c.viewID
}

// PutCanvasObject records a freeform stroke/shape. Create and update are the
// same operation; convergence is the merge primitive's job.
func (c *Canvas) PutCanvasObject(id string, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds[id] == KindViewObject {
		return ErrIDInUse
	}
	c.kinds[id] = KindCanvas
	c.canvasObjects[id] = data
	return nil
}

// PutViewObject mirrors a structured object (create or last-writer-wins
// update).
func (c *Canvas) PutViewObject(obj ViewObjectState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds[obj.ID] == KindCanvas {
		return ErrIDInUse
	}
	c.kinds[obj.ID] = KindViewObject
	c.viewObjects[obj.ID] = obj
	return nil
}

// Remove drops id from whichever map owns it. Removing an unknown id is a
// no-op: a concurrent peer already deleted it.
func (c *Canvas) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.kinds[id] {
	case KindCanvas:
		delete(c.canvasObjects, id)
	case KindViewObject:
		delete(c.viewObjects, id)
	}
	delete(c.kinds, id)
}

// Erase routes the erase tool: one registry lookup decides which delete to
// emit. The bool is false when the id is present in neither map, which is not
// an error.
func (c *Canvas) Erase(id string) (Op, bool) {
	c.mu.Lock()
	kind := c.kinds[id]
	switch kind {
	case KindCanvas:
		delete(c.canvasObjects, id)
	case KindViewObject:
		delete(c.viewObjects, id)
	default:
		c.mu.Unlock()
		return Op{}, false
	}
	delete(c.kinds, id)
	c.mu.Unlock()

	opType := OpDeleteCanvasObject
	if kind == KindViewObject {
		opType = OpDeleteViewObject
	}
	return Op{Type: opType, ID: id, ViewID: c.viewID}, true
}

func (c *Canvas) CanvasObject(id string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.canvasObjects[id]
	return data, ok
}

func (c *Canvas) ViewObject(id string) (ViewObjectState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.viewObjects[id]
	return obj, ok
}

// KindOf reports the registry's owner for id, or zero when unknown.
func (c *Canvas) KindOf(id string) Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[id]
}

func (c *Canvas) Counts() (canvasObjects, viewObjects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.canvasObjects), len(c.viewObjects)
}
