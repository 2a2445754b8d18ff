// Package gitrepo mirrors committed note versions into one git repository per
// note, so history can be inspected with ordinary git tooling.
package gitrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"notegate/api/internal/fault"
	"notegate/api/internal/store"
)

const contentFile = "note.json"

// Deleted notes are remembered long enough to drop version hooks that were
// still queued when the delete committed.
const (
	tombstoneSize = 10000
	tombstoneTTL  = time.Hour
)

type Content struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int    `json:"version"`
}

type Commit struct {
	Hash    string
	Message string
	Author  string
	Version int
	When    time.Time
}

type Service struct {
	baseDir string
	log     *logrus.Entry
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	removed *expirable.LRU[string, struct{}]
}

func New(baseDir string, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		baseDir: baseDir,
		log:     log.WithField("component", "gitrepo"),
		locks:   make(map[string]*sync.Mutex),
		removed: expirable.NewLRU[string, struct{}](tombstoneSize, nil, tombstoneTTL),
	}
}

// CommitVersion records note at its current version on main and tags the
// commit v<version>. Versions at or below the mirrored head are skipped, so
// out-of-order calls never rewind the mirror. Notes removed recently are
// skipped too.
func (s *Service) CommitVersion(note store.Note, author string) (Commit, bool, error) {
	lock := s.noteLock(note.ID)
	lock.Lock()
	defer lock.Unlock()

	if s.removed.Contains(note.ID) {
		return Commit{}, false, nil
	}
	repo, err := s.openOrInit(note.ID)
	if err != nil {
		return Commit{}, false, err
	}

	if head, err := headContent(repo); err == nil && head.Version >= note.VersionNumber {
		return Commit{}, false, nil
	} else if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Commit{}, false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(Content{Title: note.Title, Content: note.Content, Version: note.VersionNumber}, "", "  ")
	if err != nil {
		return Commit{}, false, fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.repoPath(note.ID), contentFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add content: %w", err)
	}

	if author == "" {
		author = "notegate"
	}
	when := note.UpdatedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(fmt.Sprintf("Version %d", note.VersionNumber), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@notegate.local", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit content: %w", err)
	}

	if _, err := repo.CreateTag(versionTag(note.VersionNumber), hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, false, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj, note.VersionNumber), true, nil
}

// ContentAt reads the mirrored content of a version.
func (s *Service) ContentAt(noteID string, version int) (Content, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(noteID)
	if err != nil {
		return Content{}, err
	}
	ref, err := repo.Tag(versionTag(version))
	if errors.Is(err, git.ErrTagNotFound) {
		return Content{}, fault.NotFound("mirror content", fmt.Sprintf("version %d is not mirrored", version))
	}
	if err != nil {
		return Content{}, fmt.Errorf("resolve version %d: %w", version, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, fmt.Errorf("load commit object: %w", err)
	}
	return readContentFromCommit(commitObj)
}

// History lists mirrored commits newest first. A limit of zero lists all.
func (s *Service) History(noteID string, limit int) ([]Commit, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(noteID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		content, err := readContentFromCommit(commitObj)
		if err != nil {
			return err
		}
		items = append(items, toCommit(commitObj, content.Version))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Remove deletes a note's mirror and drops its lock. Later CommitVersion
// calls for the note are ignored.
func (s *Service) Remove(noteID string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	s.removed.Add(noteID, struct{}{})
	s.lockMu.Lock()
	delete(s.locks, noteID)
	s.lockMu.Unlock()

	if err := os.RemoveAll(s.repoPath(noteID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

// NoteChanged mirrors a committed version in the background.
func (s *Service) NoteChanged(_ context.Context, note store.Note, actorID string) {
	go func() {
		if _, _, err := s.CommitVersion(note, actorID); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"note_id": note.ID,
				"version": note.VersionNumber,
			}).Warn("mirror note version")
		}
	}()
}

// NoteDeleted drops a purged note's mirror in the background.
func (s *Service) NoteDeleted(_ context.Context, noteID string) {
	go func() {
		if err := s.Remove(noteID); err != nil {
			s.log.WithError(err).WithField("note_id", noteID).Warn("remove note mirror")
		}
	}()
}

func (s *Service) open(noteID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(noteID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fault.NotFound("open mirror", "note has no mirror")
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(noteID string) (*git.Repository, error) {
	path := s.repoPath(noteID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(noteID string) string {
	return filepath.Join(s.baseDir, filepath.Base(noteID))
}

func (s *Service) noteLock(noteID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[noteID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[noteID] = lock
	return lock
}

func headContent(repo *git.Repository) (Content, error) {
	ref, err := repo.Head()
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, fmt.Errorf("load head commit: %w", err)
	}
	return readContentFromCommit(commitObj)
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func versionTag(version int) string {
	return "v" + strconv.Itoa(version)
}

func toCommit(commitObj *object.Commit, version int) Commit {
	return Commit{
		Hash:    commitObj.Hash.String()[:7],
		Message: commitObj.Message,
		Author:  commitObj.Author.Name,
		Version: version,
		When:    commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
