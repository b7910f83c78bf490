package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// storageErr tags backend failures so callers can match ErrStorageUnavailable
// and retry; the original cause stays in the chain. Statement-level failures
// such as constraint violations pass through untagged: retrying those can
// never succeed.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !retryableSQLState(pgErr.Code) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Class 08 is connection_exception, 53 insufficient_resources, 57
// operator_intervention (shutdown, crash). Anything else the server said
// about the statement itself is final.
func retryableSQLState(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57":
		return true
	}
	return false
}

func (s *PostgresStore) GetDocument(ctx context.Context, name string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx,
		`SELECT name, data, updated_at FROM documents WHERE name=$1`, name,
	).Scan(&doc.Name, &doc.Data, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, storageErr("get document", err)
	}
	return doc, nil
}

// SaveDocument upserts the merge-state blob for name. The caller must hand in
// state that already reflects the merge of everything applied so far; the
// store replaces, it never merges.
func (s *PostgresStore) SaveDocument(ctx context.Context, name string, data []byte, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (name, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET data=EXCLUDED.data, updated_at=EXCLUDED.updated_at
	`, name, data, updatedAt)
	if err != nil {
		return storageErr("save document", err)
	}
	return nil
}

func (s *PostgresStore) GetView(ctx context.Context, id string) (View, error) {
	var view View
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, data, updated_at FROM views WHERE id=$1`, id,
	).Scan(&view.ID, &view.Type, &view.Data, &view.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return View{}, ErrNotFound
	}
	if err != nil {
		return View{}, storageErr("get view", err)
	}
	return view, nil
}

func (s *PostgresStore) UpdateViewData(ctx context.Context, id, data string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE views SET data=$2, updated_at=NOW() WHERE id=$1`, id, data)
	if err != nil {
		return storageErr("update view data", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListViewsByType(ctx context.Context, viewType string) ([]View, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, updated_at FROM views WHERE type=$1 ORDER BY id`, viewType)
	if err != nil {
		return nil, storageErr("list views", err)
	}
	defer rows.Close()

	var views []View
	for rows.Next() {
		var view View
		if err := rows.Scan(&view.ID, &view.Type, &view.Data, &view.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// CreateViewObject assigns a fresh id and records created_by/created_at
// immutably. The caller links the object into its parent View.data as a
// separate, best-effort step.
func (s *PostgresStore) CreateViewObject(ctx context.Context, obj ViewObject) (ViewObject, error) {
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	now := time.Now()
	obj.CreatedAt = now
	obj.UpdatedAt = now
	if obj.UpdatedBy == "" {
		obj.UpdatedBy = obj.CreatedBy
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO view_objects (id, view_id, name, type, data, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, obj.ID, obj.ViewID, obj.Name, obj.Type, obj.Data, obj.CreatedBy, obj.UpdatedBy, obj.CreatedAt, obj.UpdatedAt)
	if err != nil {
		return ViewObject{}, storageErr("create view object", err)
	}
	return obj, nil
}

// UpdateViewObject is last-writer-wins on name/data/updated_by: the most
// recent arrival replaces the fields wholesale, no merge of concurrent edits.
func (s *PostgresStore) UpdateViewObject(ctx context.Context, id, name, data, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE view_objects SET name=$2, data=$3, updated_by=$4, updated_at=NOW() WHERE id=$1
	`, id, name, data, updatedBy)
	if err != nil {
		return storageErr("update view object", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteViewObject is unconditional and irreversible. Callers needing an
// audit trail capture the delete as a side event before calling this.
func (s *PostgresStore) DeleteViewObject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM view_objects WHERE id=$1`, id)
	if err != nil {
		return storageErr("delete view object", err)
	}
	return nil
}

func (s *PostgresStore) FindViewObject(ctx context.Context, id string) (ViewObject, error) {
	var obj ViewObject
	err := s.db.QueryRowContext(ctx, `
		SELECT id, view_id, name, type, data, created_by, updated_by, created_at, updated_at
		FROM view_objects WHERE id=$1
	`, id).Scan(&obj.ID, &obj.ViewID, &obj.Name, &obj.Type, &obj.Data,
		&obj.CreatedBy, &obj.UpdatedBy, &obj.CreatedAt, &obj.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ViewObject{}, ErrNotFound
	}
	if err != nil {
		return ViewObject{}, storageErr("find view object", err)
	}
	return obj, nil
}

func (s *PostgresStore) FindViewObjectsByViewID(ctx context.Context, viewID string) ([]ViewObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, view_id, name, type, data, created_by, updated_by, created_at, updated_at
		FROM view_objects WHERE view_id=$1 ORDER BY created_at, id
	`, viewID)
	if err != nil {
		return nil, storageErr("list view objects", err)
	}
	defer rows.Close()

	var objs []ViewObject
	for rows.Next() {
		var obj ViewObject
		if err := rows.Scan(&obj.ID, &obj.ViewID, &obj.Name, &obj.Type, &obj.Data,
			&obj.CreatedBy, &obj.UpdatedBy, &obj.CreatedAt, &obj.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan view object: %w", err)
		}
		objs = append(objs, obj)
	}
	return objs, rows.Err()
}
