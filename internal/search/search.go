package search

import "time"

// Result is a single search hit returned to the caller.
type Result struct {
	NoteID    string    `json:"noteId"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query describes a search request. UserID scopes results to notes the user
// is a member of.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	MemberIDs []string `json:"memberIds"`
	UpdatedAt int64    `json:"updatedAt"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func (q Query) bounds() (limit, offset int) {
	limit = q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
