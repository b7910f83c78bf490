package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultViewObject ResultType = "view_object"
	ResultNote       ResultType = "note"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	ViewID  string     `json:"viewId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterViewID string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ViewObjectRecord is the data we index for a structured view-object.
type ViewObjectRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ObjectType string `json:"objectType"`
	ViewID     string `json:"viewId"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
