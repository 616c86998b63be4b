package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/ignite/lifecycle-engine/internal/service/routing"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func resources() *memory.ResourceRepo {
	return memory.NewResourceRepo(
		domain.Resource{ID: "r-late-wellness", Niche: "wellness", Active: true, CreatedAt: t0.Add(48 * time.Hour)},
		domain.Resource{ID: "r-wellness", Niche: "wellness", Active: true, CreatedAt: t0.Add(24 * time.Hour)},
		domain.Resource{ID: "r-general", Niche: "", Active: true, CreatedAt: t0},
		domain.Resource{ID: "r-retired", Niche: "finance", Active: false, CreatedAt: t0},
	)
}

func TestNicheFromTag(t *testing.T) {
	cases := []struct {
		label, value, want string
		ok                 bool
	}{
		{"niche", "Wellness", "wellness", true},
		{"niche:Finance", "", "finance", true},
		{"NICHE", "", "", false},
		{"optin", "", "", false},
	}
	for _, c := range cases {
		got, ok := routing.NicheFromTag(c.label, c.value)
		if got != c.want || ok != c.ok {
			t.Errorf("NicheFromTag(%q, %q) = %q, %v; want %q, %v", c.label, c.value, got, ok, c.want, c.ok)
		}
	}
}

func TestAssignResource_PicksEarliestEligible(t *testing.T) {
	ctx := context.Background()
	subjects := memory.NewSubjectRepo()
	svc := routing.NewService(resources(), subjects)

	got, err := svc.AssignResource(ctx, "s1", "niche", "wellness")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got != "r-wellness" {
		t.Errorf("expected earliest wellness resource, got %s", got)
	}
	stored, _ := subjects.AssignedResource(ctx, "s1")
	if stored != "r-wellness" {
		t.Errorf("assignment not persisted, got %q", stored)
	}
}

func TestAssignResource_IsStable(t *testing.T) {
	ctx := context.Background()
	subjects := memory.NewSubjectRepo()
	repo := resources()
	svc := routing.NewService(repo, subjects)

	_ = subjects.SetAssignedResource(ctx, "s1", "r-late-wellness")
	got, err := svc.AssignResource(ctx, "s1", "niche:wellness", "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got != "r-late-wellness" {
		t.Errorf("eligible existing assignment should be kept, got %s", got)
	}

	// Re-running with the same tag yields the same answer.
	again, _ := svc.AssignResource(ctx, "s1", "niche:wellness", "")
	if again != got {
		t.Errorf("assignment thrashed: %s then %s", got, again)
	}
}

func TestAssignResource_FallsBackWhenNicheUnserved(t *testing.T) {
	ctx := context.Background()
	svc := routing.NewService(resources(), memory.NewSubjectRepo())

	got, err := svc.AssignResource(ctx, "s1", "niche", "finance")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got != "r-general" {
		t.Errorf("expected fallback to earliest active resource, got %s", got)
	}
}

func TestAssignResource_Errors(t *testing.T) {
	ctx := context.Background()
	svc := routing.NewService(memory.NewResourceRepo(), memory.NewSubjectRepo())

	if _, err := svc.AssignResource(ctx, "s1", "optin", ""); !errors.Is(err, routing.ErrNotNiche) {
		t.Errorf("expected ErrNotNiche, got %v", err)
	}
	if _, err := svc.AssignResource(ctx, "s1", "niche", "wellness"); !errors.Is(err, routing.ErrNoResource) {
		t.Errorf("expected ErrNoResource, got %v", err)
	}
}
