package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SQLSearch matches note titles and content with LIKE, joined against the
// caller's memberships. It runs on both postgres and sqlite.
type SQLSearch struct {
	db *sql.DB
}

func NewSQLSearch(db *sql.DB) *SQLSearch {
	return &SQLSearch{db: db}
}

// Healthy always returns true; if the database is down, the whole app is down.
func (p *SQLSearch) Healthy() bool {
	return true
}

func (p *SQLSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" || q.UserID == "" {
		return nil, 0, nil
	}
	limit, offset := q.bounds()
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"

	const where = `
		FROM notes n
		JOIN note_memberships m ON m.note_id = n.id
		WHERE m.user_id = $1
		  AND (LOWER(n.title) LIKE $2 ESCAPE '\' OR LOWER(n.content) LIKE $2 ESCAPE '\')`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*)`+where, q.UserID, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sql search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT n.id, n.title, n.content, n.updated_at`+where+fmt.Sprintf(`
		ORDER BY n.updated_at DESC, n.id
		LIMIT %d OFFSET %d`, limit, offset), q.UserID, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("sql search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r       Result
			content string
		)
		if err := rows.Scan(&r.NoteID, &r.Title, &content, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("sql search scan: %w", err)
		}
		r.Snippet = snippet(content, text)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// MemberIDs lists the users holding any role on noteID.
func (p *SQLSearch) MemberIDs(ctx context.Context, noteID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id FROM note_memberships WHERE note_id = $1 ORDER BY user_id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("load note members: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan note member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// VisibleNoteIDs returns the set of notes userID is a member of.
func (p *SQLSearch) VisibleNoteIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT note_id FROM note_memberships WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load visible notes: %w", err)
	}
	defer rows.Close()
	visible := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan visible note: %w", err)
		}
		visible[id] = true
	}
	return visible, rows.Err()
}

// LoadAllRecords returns every note with its members for full reindexing.
func (p *SQLSearch) LoadAllRecords(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, title, content, updated_at FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	records := make([]NoteRecord, 0)
	for rows.Next() {
		var (
			rec NoteRecord
			at  sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if at.Valid {
			rec.UpdatedAt = at.Time.Unix()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	rows.Close()

	for i := range records {
		members, err := p.MemberIDs(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].MemberIDs = members
	}
	return records, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

const snippetRadius = 60

// snippet cuts a window of content around the first case-insensitive match
// of text, or the head of content when there is none.
func snippet(content, text string) string {
	runes := []rune(content)
	start := 0
	if idx := strings.Index(strings.ToLower(content), strings.ToLower(text)); idx >= 0 {
		start = utf8.RuneCountInString(strings.ToLower(content)[:idx]) - snippetRadius
		start = max(0, min(start, len(runes)))
	}
	end := start + 2*snippetRadius + utf8.RuneCountInString(text)
	if end > len(runes) {
		end = len(runes)
	}
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}
