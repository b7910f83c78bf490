package canvas

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEraseRoutesToViewObjectDelete(t *testing.T) {
	c := New("view-1")
	if err := c.PutViewObject(ViewObjectState{ID: "obj-1", Type: "map_marker"}); err != nil {
		t.Fatalf("PutViewObject: %v", err)
	}

	op, ok := c.Erase("obj-1")
	if !ok {
		t.Fatal("Erase must emit an event for a known id")
	}
	if op.Type != OpDeleteViewObject {
		t.Errorf("op type = %s, want %s", op.Type, OpDeleteViewObject)
	}
	if op.ID != "obj-1" || op.ViewID != "view-1" {
		t.Errorf("op = %+v, want id obj-1 view view-1", op)
	}
	if _, found := c.ViewObject("obj-1"); found {
		t.Error("erased object still present")
	}
}

func TestEraseRoutesToCanvasObjectDelete(t *testing.T) {
	c := New("view-1")
	if err := c.PutCanvasObject("stroke-1", json.RawMessage(`{"points":[]}`)); err != nil {
		t.Fatalf("PutCanvasObject: %v", err)
	}

	op, ok := c.Erase("stroke-1")
	if !ok || op.Type != OpDeleteCanvasObject {
		t.Fatalf("op = %+v ok=%v, want delete_canvas_object", op, ok)
	}
}

func TestEraseUnknownIDIsNoOp(t *testing.T) {
	c := New("view-1")
	if _, ok := c.Erase("ghost"); ok {
		t.Error("erasing an id present in neither map must emit nothing")
	}
}

func TestEraseIsNotRepeatable(t *testing.T) {
	c := New("view-1")
	_ = c.PutCanvasObject("s1", nil)
	if _, ok := c.Erase("s1"); !ok {
		t.Fatal("first erase must emit")
	}
	if _, ok := c.Erase("s1"); ok {
		t.Error("second erase of the same id must be a no-op")
	}
}

func TestKindRegistryRejectsCrossKindCollisions(t *testing.T) {
	c := New("view-1")
	if err := c.PutCanvasObject("dup", nil); err != nil {
		t.Fatalf("PutCanvasObject: %v", err)
	}
	err := c.PutViewObject(ViewObjectState{ID: "dup"})
	if !errors.Is(err, ErrIDInUse) {
		t.Errorf("cross-kind create error = %v, want ErrIDInUse", err)
	}

	// The reverse direction as well.
	if err := c.PutViewObject(ViewObjectState{ID: "vo"}); err != nil {
		t.Fatalf("PutViewObject: %v", err)
	}
	if err := c.PutCanvasObject("vo", nil); !errors.Is(err, ErrIDInUse) {
		t.Errorf("reverse cross-kind create error = %v, want ErrIDInUse", err)
	}
}

func TestPutViewObjectLastWriterWins(t *testing.T) {
	c := New("view-1")
	_ = c.PutViewObject(ViewObjectState{ID: "obj", Name: "Old"})
	_ = c.PutViewObject(ViewObjectState{ID: "obj", Name: "New"})
	obj, ok := c.ViewObject("obj")
	if !ok || obj.Name != "New" {
		t.Errorf("view object = %+v, want name New", obj)
	}
	canvasCount, viewCount := c.Counts()
	if canvasCount != 0 || viewCount != 1 {
		t.Errorf("counts = %d/%d, want 0/1", canvasCount, viewCount)
	}
}

func TestRemoveFreesIDForOtherKind(t *testing.T) {
	c := New("view-1")
	_ = c.PutCanvasObject("x", nil)
	c.Remove("x")
	if err := c.PutViewObject(ViewObjectState{ID: "x"}); err != nil {
		t.Errorf("id must be reusable after removal: %v", err)
	}
}
