package component

import (
	"testing"

	"github.com/v9-labs/v9worker/internal/wire"
)

func idFor(user, repo string) wire.ComponentID {
	return wire.ComponentID{User: user, Repo: repo}
}

func TestRegistryInsertLookupRemove(t *testing.T) {
	r := NewRegistry()
	path := Path{User: "alice", Repo: "demo"}
	h := &Handle{}

	if _, ok := r.Lookup(path); ok {
		t.Fatal("expected no entry before insert")
	}
	if !r.Insert(path, h) {
		t.Fatal("first insert should succeed")
	}
	if r.Insert(path, h) {
		t.Fatal("second insert at the same path should fail")
	}

	got, ok := r.Lookup(path)
	if !ok || got != h {
		t.Fatal("lookup should return the inserted handle")
	}

	removed, ok := r.Remove(path)
	if !ok || removed != h {
		t.Fatal("remove should return the inserted handle")
	}
	if _, ok := r.Lookup(path); ok {
		t.Fatal("expected no entry after remove")
	}
}

func TestRegistryWalk(t *testing.T) {
	r := NewRegistry()
	r.Insert(Path{User: "a", Repo: "one"}, &Handle{ID: idFor("a", "one")})
	r.Insert(Path{User: "b", Repo: "two"}, &Handle{ID: idFor("b", "two")})

	seen := map[string]bool{}
	r.Walk(func(h *Handle) { seen[h.ID.User] = true })

	if !seen["a"] || !seen["b"] {
		t.Fatalf("walk did not visit all entries: %v", seen)
	}
}
