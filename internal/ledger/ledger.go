// Package ledger owns notes and their version history. Every content change
// snapshots the prior state, applies the change and advances the version
// counter inside one transaction.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"notegate/api/internal/fault"
	"notegate/api/internal/membership"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/util"
)

const (
	DefaultTitle   = "Untitled Note"
	MaxTitleLength = 200
)

// Store is the transactional handle the coordinator writes through.
type Store interface {
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// Hook observes committed changes. Implementations must not block; they are
// called after commit and cannot affect the outcome.
type Hook interface {
	NoteChanged(ctx context.Context, note store.Note, actorID string)
	NoteDeleted(ctx context.Context, noteID string)
}

// Archiver receives a note's full history before the history is purged.
type Archiver interface {
	ArchiveHistory(ctx context.Context, note store.Note, versions []store.NoteVersion) error
}

type Options struct {
	Now      func() time.Time
	Hooks    []Hook
	Archiver Archiver
	Logger   *logrus.Entry
}

type Coordinator struct {
	store    Store
	authz    *rbac.Evaluator
	now      func() time.Time
	hooks    []Hook
	archiver Archiver
	log      *logrus.Entry
}

func New(s Store, authz *rbac.Evaluator, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		store:    s,
		authz:    authz,
		now:      opts.Now,
		hooks:    opts.Hooks,
		archiver: opts.Archiver,
		log:      opts.Logger.WithField("component", "ledger"),
	}
}

// Patch carries the fields an edit replaces. Nil fields are left unchanged.
type Patch struct {
	Title   *string
	Content *string
}

type EditRequest struct {
	NoteID  string
	ActorID string
	Patch   Patch
	// ExpectedVersion, when positive, must equal the stored version or the
	// edit fails with Conflict.
	ExpectedVersion int
}

func (c *Coordinator) Create(ctx context.Context, actorID, title, content string) (store.Note, error) {
	if actorID == "" {
		return store.Note{}, fault.Forbidden("create note", "authentication required")
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return store.Note{}, err
	}

	now := c.now().UTC()
	note := store.Note{
		ID:            util.NewID("note"),
		Title:         title,
		Content:       content,
		VersionNumber: 1,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = c.store.InTx(ctx, func(q *store.Queries) error {
		if err := q.InsertNote(ctx, note); err != nil {
			return err
		}
		return membership.Create(ctx, q, c.authz.Registry(), note.ID, actorID, rbac.RoleOwner, now)
	})
	if err != nil {
		return store.Note{}, fault.Aborted("create note", err)
	}

	c.notifyChanged(ctx, note, actorID)
	return note, nil
}

// Get returns the note together with the caller's role on it.
func (c *Coordinator) Get(ctx context.Context, actorID, noteID string) (store.VisibleNote, error) {
	var out store.VisibleNote
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		decision, err := c.authorize(ctx, q, actorID, noteID, rbac.PermReadNote, "get note")
		if err != nil {
			return err
		}
		note, err := q.GetNote(ctx, noteID)
		if err != nil {
			return err
		}
		out = store.VisibleNote{Note: note, RoleID: string(decision.Role)}
		return nil
	})
	if err != nil {
		return store.VisibleNote{}, fault.Aborted("get note", err)
	}
	return out, nil
}

// ListVisible returns all notes the actor holds any membership on.
func (c *Coordinator) ListVisible(ctx context.Context, actorID string) ([]store.VisibleNote, error) {
	var notes []store.VisibleNote
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		notes, err = q.ListVisibleNotes(ctx, actorID)
		return err
	})
	if err != nil {
		return nil, fault.Aborted("list notes", err)
	}
	return notes, nil
}

func (c *Coordinator) Edit(ctx context.Context, req EditRequest) (store.Note, error) {
	if req.Patch.Title == nil && req.Patch.Content == nil {
		return store.Note{}, fault.InvalidInput("edit note", "title or content is required")
	}

	var updated store.Note
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := c.authorize(ctx, q, req.ActorID, req.NoteID, rbac.PermEditNoteContent, "edit note"); err != nil {
			return err
		}
		current, err := q.LockNote(ctx, req.NoteID)
		if err != nil {
			return err
		}
		if err := checkExpected(current, req.ExpectedVersion); err != nil {
			return err
		}

		title, content := current.Title, current.Content
		if req.Patch.Title != nil {
			if title, err = normalizeTitle(*req.Patch.Title); err != nil {
				return err
			}
		}
		if req.Patch.Content != nil {
			content = *req.Patch.Content
		}
		updated, err = c.commitVersion(ctx, q, current, title, content, req.ActorID)
		return err
	})
	if err != nil {
		return store.Note{}, fault.Aborted("edit note", err)
	}

	c.notifyChanged(ctx, updated, req.ActorID)
	return updated, nil
}

// Revert restores the title and content held by targetVersion as a new
// forward version. Snapshots after targetVersion are kept.
func (c *Coordinator) Revert(ctx context.Context, actorID, noteID string, targetVersion, expectedVersion int) (store.Note, error) {
	if targetVersion < 1 {
		return store.Note{}, fault.InvalidInput("revert note", "version must be positive")
	}

	var updated store.Note
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := c.authorize(ctx, q, actorID, noteID, rbac.PermEditNoteContent, "revert note"); err != nil {
			return err
		}
		current, err := q.LockNote(ctx, noteID)
		if err != nil {
			return err
		}
		if err := checkExpected(current, expectedVersion); err != nil {
			return err
		}
		target, err := q.GetNoteVersion(ctx, noteID, targetVersion)
		if err != nil {
			return err
		}
		updated, err = c.commitVersion(ctx, q, current, target.Title, target.Content, actorID)
		return err
	})
	if err != nil {
		return store.Note{}, fault.Aborted("revert note", err)
	}

	c.notifyChanged(ctx, updated, actorID)
	return updated, nil
}

// Delete removes the note, its memberships, pending grants, comments and
// version history. With an archiver configured the history is exported first
// and a failed export leaves everything in place. A version committed after
// the export makes the delete fail with Conflict.
func (c *Coordinator) Delete(ctx context.Context, actorID, noteID string) error {
	archived := 0
	if c.archiver != nil {
		version, err := c.archive(ctx, actorID, noteID)
		if err != nil {
			return err
		}
		archived = version
	}

	err := c.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := c.authorize(ctx, q, actorID, noteID, rbac.PermDeleteNote, "delete note"); err != nil {
			return err
		}
		current, err := q.LockNote(ctx, noteID)
		if err != nil {
			return err
		}
		// The archive must hold every version that is about to be purged.
		if archived > 0 && current.VersionNumber != archived {
			return fault.Conflict("delete note", fmt.Sprintf("note changed to version %d while its history was archived at version %d", current.VersionNumber, archived))
		}
		if err := q.DeleteCommentsForNote(ctx, noteID); err != nil {
			return err
		}
		if err := q.DeleteInvitationsForNote(ctx, noteID); err != nil {
			return err
		}
		if err := q.DeleteShareLinksForNote(ctx, noteID); err != nil {
			return err
		}
		if err := q.DeleteNoteVersions(ctx, noteID); err != nil {
			return err
		}
		if err := q.DeleteMembershipsForNote(ctx, noteID); err != nil {
			return err
		}
		return q.DeleteNote(ctx, noteID)
	})
	if err != nil {
		return fault.Aborted("delete note", err)
	}

	for _, hook := range c.hooks {
		hook.NoteDeleted(ctx, noteID)
	}
	return nil
}

// History lists the note's snapshots, newest first.
func (c *Coordinator) History(ctx context.Context, actorID, noteID string) ([]store.NoteVersion, error) {
	var versions []store.NoteVersion
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := c.authorize(ctx, q, actorID, noteID, rbac.PermReadNote, "note history"); err != nil {
			return err
		}
		var err error
		versions, err = q.ListNoteVersions(ctx, noteID)
		return err
	})
	if err != nil {
		return nil, fault.Aborted("note history", err)
	}
	return versions, nil
}

// archive exports the note's history and returns the version it captured.
func (c *Coordinator) archive(ctx context.Context, actorID, noteID string) (int, error) {
	var (
		note     store.Note
		versions []store.NoteVersion
	)
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := c.authorize(ctx, q, actorID, noteID, rbac.PermDeleteNote, "delete note"); err != nil {
			return err
		}
		var err error
		if note, err = q.GetNote(ctx, noteID); err != nil {
			return err
		}
		versions, err = q.ListNoteVersions(ctx, noteID)
		return err
	})
	if err != nil {
		return 0, fault.Aborted("delete note", err)
	}
	if err := c.archiver.ArchiveHistory(ctx, note, versions); err != nil {
		c.log.WithError(err).WithField("note_id", noteID).Warn("archive history failed, note kept")
		return 0, fault.Aborted("delete note", fmt.Errorf("archive history: %w", err))
	}
	return note.VersionNumber, nil
}

// commitVersion records current as a snapshot and moves the note to the next
// version with the given title and content.
func (c *Coordinator) commitVersion(ctx context.Context, q *store.Queries, current store.Note, title, content, actorID string) (store.Note, error) {
	now := c.now().UTC()
	snapshot := store.NoteVersion{
		ID:            util.NewID("ver"),
		NoteID:        current.ID,
		VersionNumber: current.VersionNumber,
		Title:         current.Title,
		Content:       current.Content,
		ChangedBy:     actorID,
		CreatedAt:     now,
	}
	if err := q.InsertNoteVersion(ctx, snapshot); err != nil {
		return store.Note{}, err
	}
	if err := q.UpdateNoteContent(ctx, current.ID, title, content, current.VersionNumber, now); err != nil {
		return store.Note{}, err
	}

	next := current
	next.Title = title
	next.Content = content
	next.VersionNumber = current.VersionNumber + 1
	next.UpdatedAt = now
	return next, nil
}

func (c *Coordinator) authorize(ctx context.Context, q *store.Queries, actorID, noteID string, perm rbac.Permission, op string) (rbac.Decision, error) {
	return c.authz.Require(ctx, q, actorID, noteID, perm, op)
}

func (c *Coordinator) notifyChanged(ctx context.Context, note store.Note, actorID string) {
	for _, hook := range c.hooks {
		hook.NoteChanged(ctx, note, actorID)
	}
}

func checkExpected(current store.Note, expected int) error {
	if expected > 0 && current.VersionNumber != expected {
		return fault.Conflict("edit note", fmt.Sprintf("note is at version %d, expected %d", current.VersionNumber, expected))
	}
	return nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle, nil
	}
	if len([]rune(title)) > MaxTitleLength {
		return "", fault.InvalidInput("note title", fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}
	return title, nil
}
