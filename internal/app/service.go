package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"notegate/api/internal/auth"
	"notegate/api/internal/authpw"
	"notegate/api/internal/comments"
	"notegate/api/internal/gitrepo"
	"notegate/api/internal/grants"
	"notegate/api/internal/ledger"
	"notegate/api/internal/membership"
	"notegate/api/internal/search"
	"notegate/api/internal/session"
	"notegate/api/internal/store"
	"notegate/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type SessionConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps are the components the facade fronts. Search and Mirror are optional.
type Deps struct {
	DB          Pinger
	Notes       *ledger.Coordinator
	Members     *membership.Service
	Grants      *grants.Service
	Comments    *comments.Service
	Search      *search.Service
	Mirror      *gitrepo.Service
	Passwords   *authpw.Service
	Sessions    session.Store
	SessionCfg  SessionConfig
	OpTimeout   time.Duration
	EmailActive bool
	Logger      *logrus.Entry
}

// Service is the facade the HTTP layer calls. Every call runs under the
// configured operation timeout.
type Service struct {
	deps Deps
	log  *logrus.Entry
	now  func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.OpTimeout <= 0 {
		deps.OpTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{deps: deps, log: deps.Logger, now: time.Now}
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.deps.OpTimeout)
}

func (s *Service) Ping(ctx context.Context) map[string]error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	checks := map[string]error{"database": s.deps.DB.Ping(ctx)}
	if s.deps.Sessions != nil {
		checks["sessions"] = s.deps.Sessions.Ping(ctx)
	}
	return checks
}

func (s *Service) EmailConfigured() bool {
	return s.deps.EmailActive
}

// Sessions

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	user, err := s.deps.Passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID, user.Email, user.DisplayName)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	user, err := s.deps.Passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID, user.Email, user.DisplayName)
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, current, next string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Passwords.ChangePassword(ctx, sess.UserID, current, next)
}

// Refresh rotates a refresh token: the old one is revoked before a new pair
// is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, errUnauthorized
	}
	tokenHash := auth.HashToken(refreshToken)
	prior, err := s.deps.Sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.deps.Sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, prior.UserID, prior.Email, prior.DisplayName)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var errs []error
	if sess.JTI != "" {
		errs = append(errs, s.deps.Sessions.Save(ctx, revokedKey(sess.JTI), session.Session{UserID: sess.UserID}, sess.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.deps.Sessions.Revoke(ctx, auth.HashToken(refreshToken)))
	}
	return errors.Join(errs...)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.deps.SessionCfg.Secret), token)
	if err != nil {
		return Session{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.deps.Sessions.Lookup(ctx, revokedKey(claims.JTI)); err == nil {
		return Session{}, auth.ErrInvalidToken
	} else if !errors.Is(err, session.ErrNotFound) {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) issueSession(ctx context.Context, userID, email, name string) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.deps.SessionCfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.deps.SessionCfg.Secret), auth.Claims{
		Sub:   userID,
		Name:  name,
		Email: email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.RandomToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.deps.Sessions.Save(ctx, auth.HashToken(refresh), session.Session{
		UserID:      userID,
		Email:       email,
		DisplayName: name,
		CreatedAt:   now.UTC(),
	}, now.Add(s.deps.SessionCfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       userID,
		UserName:     name,
		Email:        email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func revokedKey(jti string) string {
	return "revoked-jti:" + jti
}

// Notes

func (s *Service) ListNotes(ctx context.Context, sess Session) ([]store.VisibleNote, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.ListVisible(ctx, sess.UserID)
}

func (s *Service) CreateNote(ctx context.Context, sess Session, title, content string) (store.Note, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.Create(ctx, sess.UserID, title, content)
}

func (s *Service) GetNote(ctx context.Context, sess Session, noteID string) (store.VisibleNote, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.Get(ctx, sess.UserID, noteID)
}

func (s *Service) EditNote(ctx context.Context, sess Session, noteID string, patch ledger.Patch, expectedVersion int) (store.Note, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.Edit(ctx, ledger.EditRequest{
		NoteID:          noteID,
		ActorID:         sess.UserID,
		Patch:           patch,
		ExpectedVersion: expectedVersion,
	})
}

func (s *Service) DeleteNote(ctx context.Context, sess Session, noteID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.Delete(ctx, sess.UserID, noteID)
}

func (s *Service) NoteHistory(ctx context.Context, sess Session, noteID string) ([]store.NoteVersion, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.History(ctx, sess.UserID, noteID)
}

func (s *Service) RevertNote(ctx context.Context, sess Session, noteID string, version, expectedVersion int) (store.Note, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Notes.Revert(ctx, sess.UserID, noteID, version, expectedVersion)
}

// Members

func (s *Service) ListMembers(ctx context.Context, sess Session, noteID string) ([]membership.Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Members.List(ctx, sess.UserID, noteID)
}

func (s *Service) ChangeRole(ctx context.Context, sess Session, noteID, userID, role string) (membership.Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Members.ChangeRole(ctx, sess.UserID, noteID, userID, role)
}

func (s *Service) RemoveMember(ctx context.Context, sess Session, noteID, userID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Members.Revoke(ctx, sess.UserID, noteID, userID)
}

func (s *Service) TransferOwnership(ctx context.Context, sess Session, noteID, userID string) (membership.Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Members.TransferOwnership(ctx, sess.UserID, noteID, userID)
}

// Invitations

func (s *Service) InviteCollaborator(ctx context.Context, sess Session, noteID, email, role string) (grants.IssuedInvitation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.IssueInvitation(ctx, sess.UserID, noteID, email, role)
}

func (s *Service) ListInvitations(ctx context.Context, sess Session, noteID string) ([]store.Invitation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.ListPendingInvitations(ctx, sess.UserID, noteID)
}

func (s *Service) RevokeInvitation(ctx context.Context, sess Session, invitationID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.RevokeInvitation(ctx, sess.UserID, invitationID)
}

func (s *Service) AcceptInvitation(ctx context.Context, sess Session, token string) (store.Membership, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.RedeemInvitation(ctx, token, sess.UserID)
}

// Share links

func (s *Service) CreateShareLink(ctx context.Context, sess Session, noteID, scope string, ttl time.Duration) (grants.IssuedShareLink, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.IssueShareLink(ctx, sess.UserID, noteID, scope, ttl)
}

func (s *Service) ListShareLinks(ctx context.Context, sess Session, noteID string) ([]store.ShareLink, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.ListShareLinks(ctx, sess.UserID, noteID)
}

func (s *Service) RevokeShareLink(ctx context.Context, sess Session, linkID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.RevokeShareLink(ctx, sess.UserID, linkID)
}

func (s *Service) ResolveShared(ctx context.Context, token string) (grants.SharedNote, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Grants.ResolveShareLink(ctx, token)
}

// Comments

func (s *Service) ListComments(ctx context.Context, sess Session, noteID string) ([]store.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Comments.List(ctx, sess.UserID, noteID)
}

func (s *Service) AddComment(ctx context.Context, sess Session, noteID, content, parentID string) (store.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Comments.Add(ctx, sess.UserID, noteID, content, parentID)
}

func (s *Service) ListSharedComments(ctx context.Context, token string) ([]store.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Comments.ListShared(ctx, token)
}

func (s *Service) AddSharedComment(ctx context.Context, token, name, content, parentID string) (store.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Comments.AddShared(ctx, token, name, content, parentID)
}

// Search

func (s *Service) Search(ctx context.Context, sess Session, text string, limit, offset int) (search.Response, error) {
	if s.deps.Search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.deps.Search.Search(ctx, search.Query{Text: text, UserID: sess.UserID, Limit: limit, Offset: offset}), nil
}

// Mirror

func (s *Service) MirrorHistory(ctx context.Context, sess Session, noteID string, limit int) ([]gitrepo.Commit, error) {
	if err := s.authorizeMirror(ctx, sess, noteID); err != nil {
		return nil, err
	}
	return s.deps.Mirror.History(noteID, limit)
}

func (s *Service) MirrorContent(ctx context.Context, sess Session, noteID string, version int) (gitrepo.Content, error) {
	if err := s.authorizeMirror(ctx, sess, noteID); err != nil {
		return gitrepo.Content{}, err
	}
	return s.deps.Mirror.ContentAt(noteID, version)
}

// authorizeMirror requires read access to the live note before any mirrored
// history is shown.
func (s *Service) authorizeMirror(ctx context.Context, sess Session, noteID string) error {
	if s.deps.Mirror == nil {
		return domainError(http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "Version mirror is not configured", nil)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.deps.Notes.Get(ctx, sess.UserID, noteID)
	return err
}
