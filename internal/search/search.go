package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject  ResultType = "project"
	ResultDocument ResultType = "document"
	ResultAnswer   ResultType = "answer"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	OrgID     string     `json:"orgId"`
}

// Query describes a search request.
type Query struct {
	Text        string
	FilterType  ResultType // empty = all types
	FilterOrgID string
	Limit       int
	Offset      int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexDocument(d DocumentRecord) error
	IndexAnswer(a AnswerRecord) error
	DeleteProject(id string) error
	DeleteDocument(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	FacilityType string `json:"facilityType"`
	Stage        string `json:"stage"`
	OrgID        string `json:"orgId"`
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	ProjectID string `json:"projectId"`
	OrgID     string `json:"orgId"`
}

// AnswerRecord is the data we index for an assistant answer.
type AnswerRecord struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
	OrgID     string `json:"orgId"`
}
