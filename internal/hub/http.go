package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slate/collab/internal/history"
	"slate/collab/internal/search"
	"slate/collab/internal/store"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type objectReader interface {
	FindViewObject(ctx context.Context, id string) (store.ViewObject, error)
	FindViewObjectsByViewID(ctx context.Context, viewID string) ([]store.ViewObject, error)
}

type HTTPServer struct {
	hub        *Hub
	search     *search.Service
	history    *history.Service
	db         pinger
	objects    objectReader
	corsOrigin string
}

func NewHTTPServer(h *Hub, searchSvc *search.Service, historySvc *history.Service, dataStore *store.PostgresStore, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		hub:        h,
		search:     searchSvc,
		history:    historySvc,
		db:         dataStore,
		objects:    dataStore,
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withCORS(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")

	if len(parts) == 2 && parts[0] == "ws" && parts[1] != "" {
		s.handleWS(w, r, parts[1])
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" && parts[3] == "history" {
		s.handleHistory(w, r, parts[2])
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "views" && parts[3] == "objects" {
		s.handleListObjects(w, r, parts[2])
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "objects" {
		s.handleGetObject(w, r, parts[2])
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" && parts[3] == "presence" {
		writeJSON(w, http.StatusOK, map[string]any{"online": s.hub.Online(parts[2])})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:         r.URL.Query().Get("q"),
		FilterType:   search.ResultType(r.URL.Query().Get("type")),
		FilterViewID: r.URL.Query().Get("view"),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		q.Limit = limit
	}
	writeJSON(w, http.StatusOK, s.search.Search(q))
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, doc string) {
	limit := 20
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	commits, err := s.history.Log(doc, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "HISTORY_ERROR", err.Error())
		return
	}
	out := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		out = append(out, map[string]any{
			"hash":      c.Hash,
			"message":   c.Message,
			"author":    c.Author,
			"createdAt": c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": out})
}

func (s *HTTPServer) handleListObjects(w http.ResponseWriter, r *http.Request, viewID string) {
	objs, err := s.objects.FindViewObjectsByViewID(r.Context(), viewID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "view objects unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objectsJSON(objs)})
}

func (s *HTTPServer) handleGetObject(w http.ResponseWriter, r *http.Request, id string) {
	obj, err := s.objects.FindViewObject(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "view object not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "view object unavailable")
		return
	}
	writeJSON(w, http.StatusOK, objectJSON(obj))
}

func objectsJSON(objs []store.ViewObject) []map[string]any {
	out := make([]map[string]any, 0, len(objs))
	for _, obj := range objs {
		out = append(out, objectJSON(obj))
	}
	return out
}

func objectJSON(obj store.ViewObject) map[string]any {
	data := json.RawMessage(obj.Data)
	if !json.Valid(data) {
		data = json.RawMessage(`{}`)
	}
	return map[string]any{
		"id":        obj.ID,
		"viewId":    obj.ViewID,
		"name":      obj.Name,
		"type":      obj.Type,
		"data":      data,
		"createdBy": obj.CreatedBy,
		"updatedBy": obj.UpdatedBy,
		"createdAt": obj.CreatedAt,
		"updatedAt": obj.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "error": message})
}
