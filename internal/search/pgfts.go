package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across view_objects and notes using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultViewObject {
		where := fmt.Sprintf("to_tsvector('simple', o.name) @@ %s", tsQuery)
		if q.FilterViewID != "" {
			where += fmt.Sprintf(" AND o.view_id = $%d", argN)
			args = append(args, q.FilterViewID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'view_object'::text AS type, o.id, o.name AS title,
				o.type AS snippet,
				o.view_id,
				ts_rank(to_tsvector('simple', o.name), %s) AS rank
			FROM view_objects o
			WHERE %s`, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultNote {
		where := fmt.Sprintf("to_tsvector('simple', n.title || ' ' || n.content) @@ %s", tsQuery)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title,
				ts_headline('simple', coalesce(n.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS view_id,
				ts_rank(to_tsvector('simple', n.title || ' ' || n.content), %s) AS rank
			FROM notes n
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	query := fmt.Sprintf(`
		SELECT type, id, title, snippet, view_id FROM (
			%s
		) hits
		ORDER BY rank DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(subQueries, "\nUNION ALL\n"), argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ViewID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, len(results), rows.Err()
}
