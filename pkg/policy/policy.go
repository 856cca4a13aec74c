// Package policy decides whether an identity may perform an action, optionally on
// a specific record. Role tiers and their grants live in an embedded casbin model;
// record-level rules such as ownership are layered on top in Go.
package policy

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"bookshelf/pkg/domain"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Action is a closed set of checks callers can ask for.
type Action string

const (
	CreateBook        Action = "book.create"
	UpdateBook        Action = "book.update"
	DeleteBook        Action = "book.delete"
	SubmitReview      Action = "review.submit"
	ModerateReview    Action = "review.moderate"
	ManageCollections Action = "collection.manage"
	MutateCollection  Action = "collection.mutate"
)

// Actions returns every defined action.
func Actions() []Action {
	return []Action{CreateBook, UpdateBook, DeleteBook, SubmitReview, ModerateReview, ManageCollections, MutateCollection}
}

// Identity is the acting user. The zero value is the anonymous visitor.
type Identity struct {
	UserID string
	Role   domain.UserRole
}

// Anonymous is the identity of an unauthenticated visitor.
var Anonymous = Identity{}

// IdentityOf builds the identity of a signed-in user.
func IdentityOf(u domain.User) Identity {
	return Identity{UserID: u.ID, Role: u.Role}
}

// Authenticated reports whether the identity belongs to a signed-in user.
func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.UserID) != "" && i.Role.Valid()
}

// Owned is implemented by records that have a single owning user.
type Owned interface {
	OwnedBy() string
}

type rule func(e *Engine, who Identity, target Owned) bool

// rules binds each action to its check. Every Action must have an entry.
var rules = map[Action]rule{
	CreateBook:        grant("book", "create"),
	UpdateBook:        grant("book", "update"),
	DeleteBook:        grant("book", "delete"),
	SubmitReview:      grant("review", "submit"),
	ModerateReview:    grant("review", "moderate"),
	ManageCollections: grant("collection", "manage"),
	MutateCollection:  all(grant("collection", "manage"), owner),
}

// grant checks the casbin role table for (role, obj, act).
func grant(obj, act string) rule {
	return func(e *Engine, who Identity, _ Owned) bool {
		ok, err := e.enforcer.Enforce(string(who.Role), obj, act)
		if err != nil {
			slog.Error("policy enforce failed", "role", who.Role, "obj", obj, "act", act, "err", err)
			return false
		}
		return ok
	}
}

// owner passes only when the target exists and belongs to the identity.
func owner(_ *Engine, who Identity, target Owned) bool {
	return target != nil && target.OwnedBy() == who.UserID
}

func all(checks ...rule) rule {
	return func(e *Engine, who Identity, target Owned) bool {
		for _, check := range checks {
			if !check(e, who, target) {
				return false
			}
		}
		return true
	}
}

// Engine evaluates actions against the role table.
type Engine struct {
	enforcer *casbin.SyncedEnforcer
}

// New loads the embedded model and policy.
func New() (*Engine, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if err := loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Engine{enforcer: enforcer}, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Can reports whether who may perform action on target. target may be nil for
// actions that are not about a specific record. Anonymous identities and unknown
// actions are always denied.
func (e *Engine) Can(who Identity, action Action, target Owned) bool {
	if e == nil || !who.Authenticated() {
		return false
	}
	check, ok := rules[action]
	if !ok {
		return false
	}
	return check(e, who, target)
}
