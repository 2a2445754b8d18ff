// Package sweeper periodically deletes expired invitations and share links.
// Expiry is enforced at read time, so the sweep only reclaims space.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Store interface {
	DeleteExpiredInvitations(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredShareLinks(ctx context.Context, before time.Time) (int64, error)
}

type Result struct {
	Invitations int64
	ShareLinks  int64
}

const runTimeout = time.Minute

type Sweeper struct {
	store   Store
	now     func() time.Time
	log     *logrus.Entry
	cron    *cron.Cron
	onSweep func(Result)
}

func New(s Store, now func() time.Time, log *logrus.Entry) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sweeper{store: s, now: now, log: log.WithField("component", "sweeper")}
}

// OnSweep registers fn to receive the counts of every successful scheduled
// run.
func (s *Sweeper) OnSweep(fn func(Result)) {
	s.onSweep = fn
}

// RunOnce deletes everything that expired before now. Both deletes run even
// if the first fails.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	var (
		res  Result
		errs []error
		err  error
	)
	if res.Invitations, err = s.store.DeleteExpiredInvitations(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("sweep invitations: %w", err))
	}
	if res.ShareLinks, err = s.store.DeleteExpiredShareLinks(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("sweep share links: %w", err))
	}
	return res, errors.Join(errs...)
}

// Start schedules RunOnce on spec, a standard cron expression or descriptor
// such as "@every 15m".
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", spec).Info("sweeper started")
	return nil
}

// Stop halts scheduling and returns a context that is done once any running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	entry := s.log.WithFields(logrus.Fields{
		"invitations": res.Invitations,
		"share_links": res.ShareLinks,
	})
	if err != nil {
		entry.WithError(err).Warn("sweep failed")
		return
	}
	if s.onSweep != nil {
		s.onSweep(res)
	}
	entry.Debug("sweep finished")
}
