package acl

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Match reports whether pattern matches candidate. Matching is
// case-insensitive. "*" matches any run of characters including "/", so a
// pattern like "/base/foo/*" covers the whole subtree under /base/foo.
// "?" matches a single character. An ill-formed pattern is an error, never
// a silent non-match.
func Match(pattern, candidate string) (bool, error) {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return g.Match(strings.ToLower(candidate)), nil
}

// Matches evaluates the full match predicate for one ACL against a query
// tuple. All four fields must pass:
//
//   - subject: exact equality
//   - user: exact equality, else glob match of acl.User against user
//   - path: exact equality, else glob match of acl.Path against path
//   - action: exact equality, else the action hierarchy. An Allow at a
//     higher action implies Allow at lower ones; a Deny at a lower action
//     implies Deny at higher ones.
func (a *Acl) Matches(subject, user string, action Action, path string) (bool, error) {
	if subject != a.Subject {
		return false, nil
	}
	if user != a.User {
		ok, err := Match(a.User, user)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if path != a.Path {
		ok, err := Match(a.Path, path)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if action != a.Action {
		switch a.Decision {
		case DecisionAllow:
			if a.Action < action {
				return false, nil
			}
		case DecisionDeny:
			if a.Action > action {
				return false, nil
			}
		}
	}
	return true, nil
}
