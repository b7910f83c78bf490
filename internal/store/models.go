package store

import "time"

// Document holds the opaque merge-state for one collaborative document.
// The store never interprets Data; merging is the caller's job.
type Document struct {
	Name      string
	Data      []byte
	UpdatedAt time.Time
}

type View struct {
	ID        string
	Type      string
	Data      string
	UpdatedAt time.Time
}

type ViewObject struct {
	ID        string
	ViewID    string
	Name      string
	Type      string
	Data      string
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note is owned by the CRUD layer; it is read here only for search.
type Note struct {
	ID        string
	Title     string
	Content   string
	UpdatedBy string
	UpdatedAt time.Time
}
