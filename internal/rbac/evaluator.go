package rbac

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"notegate/api/internal/fault"
)

type Reason string

const (
	ReasonNoMembership     Reason = "no membership"
	ReasonRoleMissing      Reason = "role missing"
	ReasonInsufficientRole Reason = "insufficient role"
)

// Decision is the outcome of one authorization check. Reason is empty when
// Allowed is true.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Role       RoleID
	Permission Permission
}

// IntegrityFault reports a deny caused by a membership that points at a role
// the registry does not know.
func (d Decision) IntegrityFault() bool {
	return !d.Allowed && d.Reason == ReasonRoleMissing
}

// Err returns nil for an allow and a Forbidden error otherwise. Every deny
// reason yields the same caller-facing message.
func (d Decision) Err(op string) error {
	if d.Allowed {
		return nil
	}
	return &fault.Error{
		Kind: fault.KindForbidden,
		Op:   op,
		Msg:  "forbidden",
		Err:  fmt.Errorf("%s lacks %s: %s", d.Role, d.Permission, d.Reason),
	}
}

// MembershipLookup resolves the role id a user holds on a note. Implementations
// are expected to be scoped to the caller's transaction.
type MembershipLookup interface {
	MembershipRole(ctx context.Context, noteID, userID string) (roleID string, found bool, err error)
}

type Evaluator struct {
	roles   *Registry
	log     *logrus.Entry
	observe func(Decision)
}

func NewEvaluator(roles *Registry) *Evaluator {
	return &Evaluator{roles: roles, log: logrus.NewEntry(logrus.StandardLogger())}
}

// WithLogger returns a copy of e that logs denies to entry.
func (e *Evaluator) WithLogger(entry *logrus.Entry) *Evaluator {
	clone := *e
	clone.log = entry.WithField("component", "rbac")
	return &clone
}

// OnDecision registers fn to be called with every decision made by Require.
// It must be set before the evaluator is shared.
func (e *Evaluator) OnDecision(fn func(Decision)) {
	e.observe = fn
}

func (e *Evaluator) Registry() *Registry {
	return e.roles
}

// Authorize decides whether userID may exercise perm on noteID. Lookup errors
// are returned as errors, never as denies.
func (e *Evaluator) Authorize(ctx context.Context, lookup MembershipLookup, userID, noteID string, perm Permission) (Decision, error) {
	decision := Decision{Permission: perm}
	if userID == "" {
		decision.Reason = ReasonNoMembership
		return decision, nil
	}

	roleID, found, err := lookup.MembershipRole(ctx, noteID, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup membership: %w", err)
	}
	if !found {
		decision.Reason = ReasonNoMembership
		return decision, nil
	}
	decision.Role = RoleID(roleID)

	role, ok := e.roles.Role(RoleID(roleID))
	if !ok {
		decision.Reason = ReasonRoleMissing
		return decision, nil
	}
	if !role.Has(perm) {
		decision.Reason = ReasonInsufficientRole
		return decision, nil
	}
	decision.Allowed = true
	return decision, nil
}

// Require authorizes and turns a deny into a Forbidden error for op. Denies
// are logged with their sub-reason; a role-missing deny is logged as an error
// because it means the role tables and memberships disagree.
func (e *Evaluator) Require(ctx context.Context, lookup MembershipLookup, userID, noteID string, perm Permission, op string) (Decision, error) {
	decision, err := e.Authorize(ctx, lookup, userID, noteID, perm)
	if err != nil {
		return Decision{}, err
	}
	if e.observe != nil {
		e.observe(decision)
	}
	if decision.Allowed {
		return decision, nil
	}

	entry := e.log.WithFields(logrus.Fields{
		"op":         op,
		"note_id":    noteID,
		"user_id":    userID,
		"permission": string(perm),
		"reason":     string(decision.Reason),
	})
	if decision.IntegrityFault() {
		entry.WithField("role_id", string(decision.Role)).Error("membership references unknown role")
	} else {
		entry.Info("access denied")
	}
	return decision, decision.Err(op)
}
