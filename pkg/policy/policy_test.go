package policy

import (
	"testing"

	"bookshelf/pkg/domain"
)

type record struct{ owner string }

func (r record) OwnedBy() string { return r.owner }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestEveryActionHasRule(t *testing.T) {
	for _, a := range Actions() {
		if _, ok := rules[a]; !ok {
			t.Fatalf("action %q has no rule", a)
		}
	}
	if len(rules) != len(Actions()) {
		t.Fatalf("rules table has %d entries, actions %d", len(rules), len(Actions()))
	}
}

func TestRoleMatrix(t *testing.T) {
	e := newEngine(t)
	admin := Identity{UserID: "a", Role: domain.RoleAdmin}
	mod := Identity{UserID: "m", Role: domain.RoleModerator}
	user := Identity{UserID: "u", Role: domain.RoleUser}

	tests := []struct {
		who    Identity
		action Action
		want   bool
	}{
		{admin, CreateBook, true},
		{admin, UpdateBook, true},
		{admin, DeleteBook, true},
		{admin, ModerateReview, true},
		{admin, SubmitReview, true},
		{admin, ManageCollections, true},
		{mod, CreateBook, false},
		{mod, UpdateBook, true},
		{mod, DeleteBook, false},
		{mod, ModerateReview, true},
		{mod, ManageCollections, true},
		{user, CreateBook, false},
		{user, UpdateBook, false},
		{user, DeleteBook, false},
		{user, ModerateReview, false},
		{user, SubmitReview, true},
		{user, ManageCollections, true},
	}
	for _, tc := range tests {
		if got := e.Can(tc.who, tc.action, nil); got != tc.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tc.who.Role, tc.action, got, tc.want)
		}
	}
}

func TestUnknownActionDenied(t *testing.T) {
	e := newEngine(t)
	admin := Identity{UserID: "a", Role: domain.RoleAdmin}
	for _, a := range []Action{"", "book.burn", "reviews_to_moderate"} {
		if e.Can(admin, a, nil) {
			t.Fatalf("unknown action %q must be denied", a)
		}
	}
}

func TestAnonymousDeniedEverything(t *testing.T) {
	e := newEngine(t)
	target := record{owner: ""}
	for _, a := range Actions() {
		if e.Can(Anonymous, a, nil) || e.Can(Anonymous, a, target) {
			t.Fatalf("anonymous allowed %q", a)
		}
	}
	if e.Can(Identity{UserID: "x", Role: "ghost"}, ManageCollections, nil) {
		t.Fatal("unknown role must be denied")
	}
}

func TestMutateCollectionRequiresOwner(t *testing.T) {
	e := newEngine(t)
	alice := Identity{UserID: "alice", Role: domain.RoleUser}
	bob := Identity{UserID: "bob", Role: domain.RoleAdmin}
	mine := record{owner: "alice"}

	if !e.Can(alice, MutateCollection, mine) {
		t.Fatal("owner should be allowed")
	}
	if e.Can(bob, MutateCollection, mine) {
		t.Fatal("admin role must not bypass ownership")
	}
	if e.Can(alice, MutateCollection, nil) {
		t.Fatal("missing target must be denied")
	}
}

func TestNilEngineDenies(t *testing.T) {
	var e *Engine
	if e.Can(Identity{UserID: "a", Role: domain.RoleAdmin}, CreateBook, nil) {
		t.Fatal("nil engine must deny")
	}
}
