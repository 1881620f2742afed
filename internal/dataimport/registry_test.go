package dataimport

import (
	"context"
	"errors"
	"testing"
)

func noopUnit(name, ext string) Unit {
	return Unit{
		Name:      name,
		Extension: ext,
		Run: func(ctx context.Context, db DB, cache EntityCache) error {
			return nil
		},
	}
}

func TestRegisterRejectsBadUnits(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(noopUnit("", "x")); err == nil {
		t.Fatal("expected empty name to be rejected")
	}
	if err := r.Register(noopUnit(All, "x")); err == nil {
		t.Fatal("expected reserved name to be rejected")
	}
	if err := r.Register(Unit{Name: "profiles"}); err == nil {
		t.Fatal("expected nil transform to be rejected")
	}
	if err := r.Register(noopUnit("profiles", "profiles")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(noopUnit("profiles", "other")); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}

func TestResolveAllPreservesDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"tags", "profiles", "aliases"}
	for _, name := range names {
		if err := r.Register(noopUnit(name, name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	units, err := r.Resolve([]string{All})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(units) != len(names) {
		t.Fatalf("expected %d units, got %d", len(names), len(units))
	}
	for i, u := range units {
		if u.Name != names[i] {
			t.Fatalf("position %d: expected %s, got %s", i, names[i], u.Name)
		}
	}
}

func TestResolveUnknownUnitFailsUpfront(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(noopUnit("profiles", "profiles")); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Resolve([]string{"profiles", "missing"})
	if !errors.Is(err, ErrUnknownUnit) {
		t.Fatalf("expected ErrUnknownUnit, got %v", err)
	}
}

func TestResolveExplicitNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"profiles", "tags"} {
		if err := r.Register(noopUnit(name, name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	units, err := r.Resolve([]string{"tags"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(units) != 1 || units[0].Name != "tags" {
		t.Fatalf("unexpected units %+v", units)
	}
}
