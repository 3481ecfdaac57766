// Package acl holds the policy data model and the authorization decision
// engine. An Acl is one policy tuple; the Engine answers whether a verified
// subject may perform an action on a path on behalf of a user.
package acl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the operation an ACL covers. Actions are totally ordered:
// Read < Execute < Write. The order is semantic, not lexical.
type Action int

const (
	ActionRead Action = iota
	ActionExecute
	ActionWrite
)

// String returns the canonical name stored in the database.
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "Read"
	case ActionExecute:
		return "Execute"
	case ActionWrite:
		return "Write"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction parses a canonical action name. Any other value is rejected
// at the boundary.
func ParseAction(s string) (Action, error) {
	switch s {
	case "Read":
		return ActionRead, nil
	case "Execute":
		return ActionExecute, nil
	case "Write":
		return ActionWrite, nil
	}
	return 0, fmt.Errorf("unknown action %q; must be one of Read, Execute, Write", s)
}

// MarshalJSON encodes the action as its canonical name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an action from its canonical name.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Decision is the effect of an ACL.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDeny
)

// String returns the canonical name stored in the database.
func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "Allow"
	case DecisionDeny:
		return "Deny"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// ParseDecision parses a canonical decision name.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "Allow":
		return DecisionAllow, nil
	case "Deny":
		return DecisionDeny, nil
	}
	return 0, fmt.Errorf("unknown decision %q; must be one of Allow, Deny", s)
}

// MarshalJSON encodes the decision as its canonical name.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a decision from its canonical name.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDecision(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Acl is one persisted policy tuple.
//
// Subject names the calling principal and is matched exactly. User names the
// end-user on whose behalf the caller acts and may contain wildcards. Path
// identifies the file-system resource, always begins with "/", and may
// contain wildcards. CreateBy and CreateTime are audit fields assigned
// server-side and take no part in matching.
type Acl struct {
	ID         int64    `json:"id"`
	Subject    string   `json:"subject"`
	User       string   `json:"user"`
	Path       string   `json:"path"`
	Action     Action   `json:"action"`
	Decision   Decision `json:"decision"`
	CreateBy   string   `json:"create_by"`
	CreateTime string   `json:"create_time"`
}

// NormalizePath prepends a leading "/" when the caller omitted one. Every
// stored and queried path begins with "/". No further canonicalization (no
// ".." resolution, no symlink resolution) happens at the policy layer.
func NormalizePath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
