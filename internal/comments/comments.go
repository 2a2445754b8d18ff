// Package comments stores discussion threads on notes for members and for
// holders of comment-only share links.
package comments

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"notegate/api/internal/fault"
	"notegate/api/internal/grants"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/util"
)

const (
	MaxContentLength = 5000
	MaxLabelLength   = 80
	anonymousLabel   = "Anonymous"
)

type Store interface {
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// ShareResolver turns a share-link token into the note it exposes.
type ShareResolver interface {
	ResolveShareLink(ctx context.Context, token string) (grants.SharedNote, error)
}

type Service struct {
	store  Store
	authz  *rbac.Evaluator
	shares ShareResolver
	now    func() time.Time
}

func NewService(s Store, authz *rbac.Evaluator, shares ShareResolver, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, authz: authz, shares: shares, now: now}
}

// Add posts a comment by a member. parentID, when set, must be a comment on
// the same note.
func (s *Service) Add(ctx context.Context, actorID, noteID, content, parentID string) (store.Comment, error) {
	content, err := cleanContent(content)
	if err != nil {
		return store.Comment{}, err
	}

	var comment store.Comment
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermAddComments, "add comment"); err != nil {
			return err
		}
		label := actorID
		if user, err := q.GetUserByID(ctx, actorID); err == nil {
			label = user.DisplayName
		}
		comment, err = s.insert(ctx, q, noteID, actorID, label, content, parentID)
		return err
	})
	if err != nil {
		return store.Comment{}, fault.Aborted("add comment", err)
	}
	return comment, nil
}

// AddShared posts an anonymous comment through a share link. Only
// comment-only links may post.
func (s *Service) AddShared(ctx context.Context, token, label, content, parentID string) (store.Comment, error) {
	content, err := cleanContent(content)
	if err != nil {
		return store.Comment{}, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = anonymousLabel
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return store.Comment{}, fault.InvalidInput("add comment", fmt.Sprintf("name must be at most %d characters", MaxLabelLength))
	}

	shared, err := s.shares.ResolveShareLink(ctx, token)
	if err != nil {
		return store.Comment{}, err
	}
	if !shared.Scope.Permits(rbac.PermAddComments) {
		return store.Comment{}, fault.Forbidden("add comment", "this link does not allow comments")
	}

	var comment store.Comment
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		comment, err = s.insert(ctx, q, shared.Note.ID, "", label, content, parentID)
		return err
	})
	if err != nil {
		return store.Comment{}, fault.Aborted("add comment", err)
	}
	return comment, nil
}

func (s *Service) List(ctx context.Context, actorID, noteID string) ([]store.Comment, error) {
	var out []store.Comment
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermReadNote, "list comments"); err != nil {
			return err
		}
		var err error
		out, err = q.ListComments(ctx, noteID)
		return err
	})
	if err != nil {
		return nil, fault.Aborted("list comments", err)
	}
	return out, nil
}

// ListShared lists comments on the note behind a share link of any scope.
func (s *Service) ListShared(ctx context.Context, token string) ([]store.Comment, error) {
	shared, err := s.shares.ResolveShareLink(ctx, token)
	if err != nil {
		return nil, err
	}
	var out []store.Comment
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		out, err = q.ListComments(ctx, shared.Note.ID)
		return err
	})
	if err != nil {
		return nil, fault.Aborted("list comments", err)
	}
	return out, nil
}

func (s *Service) insert(ctx context.Context, q *store.Queries, noteID, authorID, label, content, parentID string) (store.Comment, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID != "" {
		parent, err := q.GetComment(ctx, parentID)
		if err != nil {
			return store.Comment{}, err
		}
		if parent.NoteID != noteID {
			return store.Comment{}, fault.NotFound("add comment", "comment not found")
		}
	}
	comment := store.Comment{
		ID:              util.NewID("cmt"),
		NoteID:          noteID,
		AuthorID:        authorID,
		AuthorLabel:     label,
		Content:         content,
		ParentCommentID: parentID,
		CreatedAt:       s.now().UTC(),
	}
	if err := q.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fault.InvalidInput("add comment", "comment cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", fault.InvalidInput("add comment", fmt.Sprintf("comment must be at most %d characters", MaxContentLength))
	}
	return content, nil
}
