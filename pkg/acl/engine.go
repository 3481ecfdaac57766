package acl

import (
	"context"
	"fmt"
	"log/slog"
)

// AuthAnswer is the result of a decision. AclID names the ACL that settled
// the answer; it is nil when no ACL matched (default-deny).
type AuthAnswer struct {
	Allowed bool   `json:"allowed"`
	AclID   *int64 `json:"acl_id"`
}

// Store is the subset of the ACL store the engine queries.
type Store interface {
	ListBySubjectAndDecision(ctx context.Context, subject string, decision Decision) ([]Acl, error)
}

// Engine computes authorization answers under deny-overrides-allow,
// action-hierarchy, and default-deny rules.
type Engine struct {
	store Store
	log   *slog.Logger
}

// NewEngine creates an engine backed by the given store.
func NewEngine(store Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, log: log}
}

// Decide answers whether subject may perform action on path on behalf of
// user. The Deny pass runs first: any matching Deny ACL settles the answer
// as false. Then the Allow pass: any matching Allow ACL settles it as true.
// If no ACL matches, the answer is false.
//
// A storage or pattern failure fails the whole check; the engine never
// defaults to allow on internal error.
func (e *Engine) Decide(ctx context.Context, subject, user string, action Action, path string) (AuthAnswer, error) {
	path = NormalizePath(path)

	denies, err := e.store.ListBySubjectAndDecision(ctx, subject, DecisionDeny)
	if err != nil {
		return AuthAnswer{}, fmt.Errorf("loading Deny acls for subject %q: %w", subject, err)
	}
	for i := range denies {
		ok, err := denies[i].Matches(subject, user, action, path)
		if err != nil {
			return AuthAnswer{}, fmt.Errorf("evaluating acl %d: %w", denies[i].ID, err)
		}
		if ok {
			e.log.Debug("deny acl matched", "acl_id", denies[i].ID, "subject", subject, "path", path)
			id := denies[i].ID
			return AuthAnswer{Allowed: false, AclID: &id}, nil
		}
	}

	allows, err := e.store.ListBySubjectAndDecision(ctx, subject, DecisionAllow)
	if err != nil {
		return AuthAnswer{}, fmt.Errorf("loading Allow acls for subject %q: %w", subject, err)
	}
	for i := range allows {
		ok, err := allows[i].Matches(subject, user, action, path)
		if err != nil {
			return AuthAnswer{}, fmt.Errorf("evaluating acl %d: %w", allows[i].ID, err)
		}
		if ok {
			e.log.Debug("allow acl matched", "acl_id", allows[i].ID, "subject", subject, "path", path)
			id := allows[i].ID
			return AuthAnswer{Allowed: true, AclID: &id}, nil
		}
	}

	e.log.Debug("no acl matched; default deny", "subject", subject, "user", user, "action", action.String(), "path", path)
	return AuthAnswer{Allowed: false}, nil
}
