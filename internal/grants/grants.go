// Package grants issues and redeems the two capability tokens that hand out
// access to a note: identity-bound invitations and anonymous share links.
package grants

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"notegate/api/internal/auth"
	"notegate/api/internal/membership"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
)

const (
	DefaultInviteTTL    = 7 * 24 * time.Hour
	DefaultShareLinkTTL = 7 * 24 * time.Hour
	MaxShareLinkTTL     = 365 * 24 * time.Hour
)

type Store interface {
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// InvitationNotice is everything a notifier needs to tell the invitee.
type InvitationNotice struct {
	Email       string
	NoteID      string
	NoteTitle   string
	RoleName    string
	InviterName string
	Token       string
	ExpiresAt   time.Time
}

// Notifier delivers invitation messages. It runs after the invitation is
// committed; an error is logged and never undoes the grant.
type Notifier interface {
	NotifyInvitation(ctx context.Context, notice InvitationNotice) error
}

type Options struct {
	Now               func() time.Time
	InviteTTL         time.Duration
	ShareLinkTTL      time.Duration
	RequireEmailMatch bool
	OwnershipPolicy   membership.Policy
	Notifier          Notifier
	Logger            *logrus.Entry
}

type Service struct {
	store  Store
	authz  *rbac.Evaluator
	signer *auth.InviteSigner
	opts   Options
	log    *logrus.Entry
}

func NewService(s Store, authz *rbac.Evaluator, signer *auth.InviteSigner, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InviteTTL <= 0 {
		opts.InviteTTL = DefaultInviteTTL
	}
	if opts.ShareLinkTTL <= 0 {
		opts.ShareLinkTTL = DefaultShareLinkTTL
	}
	if opts.OwnershipPolicy == "" {
		opts.OwnershipPolicy = membership.PolicySingleOwner
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:  s,
		authz:  authz,
		signer: signer,
		opts:   opts,
		log:    opts.Logger.WithField("component", "grants"),
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// notify hands the notice to the notifier without holding up the caller.
func (s *Service) notify(notice InvitationNotice) {
	if s.opts.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.opts.Notifier.NotifyInvitation(ctx, notice); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"note_id": notice.NoteID,
				"email":   notice.Email,
			}).Warn("invitation notification failed")
		}
	}()
}
