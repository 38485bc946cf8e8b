package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultText       ResultType = "text"
	ResultAnnotation ResultType = "annotation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	TextID   string     `json:"text_id"`
	Language string     `json:"language,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterLanguage string
	FilterStatus   string
	Limit          int
	Offset         int
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

// TextRecord is the data we index for a text.
type TextRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Status   string `json:"status"`
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID           string `json:"id"`
	SelectedText string `json:"selectedText"`
	Label        string `json:"label"`
	Name         string `json:"name"`
	Type         string `json:"annotationType"`
	TextID       string `json:"textId"`
	Language     string `json:"language"`
}
