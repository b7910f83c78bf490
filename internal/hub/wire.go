package hub

import (
	"encoding/json"

	"slate/collab/internal/canvas"
	"slate/collab/internal/crdt"
)

type FrameType string

const (
	// FrameInit hands a joining connection the authoritative state.
	FrameInit FrameType = "init"
	// FrameOp carries one CRDT merge-operation of the document body.
	FrameOp FrameType = "op"
	// FrameCanvas carries one structured canvas operation.
	FrameCanvas FrameType = "canvas"
	// FramePresence announces join/leave and the new online count.
	FramePresence FrameType = "presence"
	// FrameSynced confirms the sender's replica matches the authoritative
	// state identified by Digest.
	FrameSynced FrameType = "synced"
	// FrameError reports a rejected operation; the connection stays open.
	FrameError FrameType = "error"
)

const (
	codePermissionDenied     = "permission_denied"
	codeStorageUnavailable   = "storage_unavailable"
	codeNotFound             = "not_found"
	codeInvalidPayload       = "invalid_payload"
	codeConflictingReference = "conflicting_reference"
)

// Frame is the single JSON envelope exchanged over a connection. Fields are
// populated per Type.
type Frame struct {
	Type    FrameType       `json:"type"`
	Doc     string          `json:"doc,omitempty"`
	State   json.RawMessage `json:"state,omitempty"`
	Digest  string          `json:"digest,omitempty"`
	Online  int             `json:"online,omitempty"`
	Op      *crdt.Op        `json:"op,omitempty"`
	Canvas  *canvas.Op      `json:"canvas,omitempty"`
	Event   string          `json:"event,omitempty"`
	User    string          `json:"user,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

func errorFrame(doc, code, message string) Frame {
	return Frame{Type: FrameError, Doc: doc, Code: code, Message: message}
}
