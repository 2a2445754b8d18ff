package search

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"notegate/api/internal/store"
)

// Engine is an external index that can answer searches faster than SQL.
// Meili is the production implementation.
type Engine interface {
	Healthy() bool
	Search(ctx context.Context, q Query) ([]Result, int, error)
	IndexNote(rec NoteRecord) error
	IndexNotes(records []NoteRecord) error
	DeleteNote(id string) error
}

const indexTimeout = 10 * time.Second

// Service tries the engine first and falls back to SQL. It also observes
// ledger commits to keep the engine's index current.
type Service struct {
	engine Engine
	sql    *SQLSearch
	log    *logrus.Entry
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, sql *SQLSearch, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{engine: engine, sql: sql, log: log.WithField("component", "search")}
}

// Search returns notes matching q.Text that q.UserID can read. Engine hits
// are checked against current memberships, since the index can lag behind a
// revocation.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			results, total, err = s.visibleOnly(ctx, q.UserID, results, total)
		}
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("engine search failed, falling back to sql")
	}

	results, total, err := s.sql.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("sql search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) visibleOnly(ctx context.Context, userID string, results []Result, total int) ([]Result, int, error) {
	visible, err := s.sql.VisibleNoteIDs(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if visible[r.NoteID] {
			filtered = append(filtered, r)
		}
	}
	return filtered, total - (len(results) - len(filtered)), nil
}

// NoteChanged reindexes a committed note in the background.
func (s *Service) NoteChanged(_ context.Context, note store.Note, _ string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		members, err := s.sql.MemberIDs(ctx, note.ID)
		if err != nil {
			s.log.WithError(err).WithField("note_id", note.ID).Warn("load members for index")
			return
		}
		rec := NoteRecord{
			ID:        note.ID,
			Title:     note.Title,
			Content:   note.Content,
			MemberIDs: members,
			UpdatedAt: note.UpdatedAt.Unix(),
		}
		if err := s.engine.IndexNote(rec); err != nil {
			s.log.WithError(err).WithField("note_id", note.ID).Warn("index note")
		}
	}()
}

// NoteDeleted removes a purged note from the index in the background.
func (s *Service) NoteDeleted(_ context.Context, noteID string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.DeleteNote(noteID); err != nil {
			s.log.WithError(err).WithField("note_id", noteID).Warn("delete note from index")
		}
	}()
}

// ReindexAll pushes every note to the engine. Called at startup when the
// engine is reachable.
func (s *Service) ReindexAll(ctx context.Context) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	records, err := s.sql.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	return s.engine.IndexNotes(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
