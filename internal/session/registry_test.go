package session

import (
	"testing"
	"time"

	"github.com/ent0n29/turnstile/internal/clock"
)

func newTestRegistry() (*Registry, *clock.Fake) {
	c := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(c), c
}

func TestRegistryTrackSetsActive(t *testing.T) {
	r, c := newTestRegistry()
	r.Track("aaaa-1", "/work/alpha", Meta{})
	c.Advance(time.Second)
	r.Track("bbbb-2", "/work/beta", Meta{Branch: "main"})

	active, ok := r.Active()
	if !ok {
		t.Fatalf("Active() ok = false, want true")
	}
	if active.ID != "bbbb-2" {
		t.Fatalf("Active().ID = %q, want %q", active.ID, "bbbb-2")
	}
	if active.Project != "beta" || active.Branch != "main" {
		t.Fatalf("unexpected labels: %+v", active)
	}
}

func TestRegistrySetActiveUnknownIsNoop(t *testing.T) {
	r, _ := newTestRegistry()
	r.Track("aaaa-1", "/work/alpha", Meta{})

	if r.SetActive("unknown") {
		t.Fatalf("SetActive(unknown) = true, want false")
	}
	active, _ := r.Active()
	if active.ID != "aaaa-1" {
		t.Fatalf("Active().ID = %q, want unchanged %q", active.ID, "aaaa-1")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (SetActive must not create)", r.Len())
	}
}

func TestRegistryRetrackKeepsDirectoryAndCountsTurns(t *testing.T) {
	r, _ := newTestRegistry()
	r.Track("aaaa-1", "/work/alpha", Meta{Branch: "feature/x"})
	got := r.Track("aaaa-1", "/somewhere/else", Meta{Project: "renamed"})

	if got.WorkingDirectory != "/work/alpha" {
		t.Fatalf("WorkingDirectory = %q, want immutable %q", got.WorkingDirectory, "/work/alpha")
	}
	if got.Project != "renamed" {
		t.Fatalf("Project = %q, want %q", got.Project, "renamed")
	}
	if got.Branch != "feature/x" {
		t.Fatalf("Branch = %q, want previous branch kept", got.Branch)
	}
	if got.TurnCount != 2 {
		t.Fatalf("TurnCount = %d, want 2", got.TurnCount)
	}
}

func TestRegistryDefaults(t *testing.T) {
	r, _ := newTestRegistry()
	got := r.Track("aaaa-1", "/work/alpha/", Meta{})
	if got.Project != "alpha" {
		t.Fatalf("Project = %q, want %q", got.Project, "alpha")
	}
	if got.Branch != UnknownBranch {
		t.Fatalf("Branch = %q, want %q", got.Branch, UnknownBranch)
	}

	if blank := r.Track("   ", "/x", Meta{}); blank.ID != "" {
		t.Fatalf("Track(blank) = %+v, want zero Session", blank)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryListMostRecentFirst(t *testing.T) {
	r, c := newTestRegistry()
	r.Track("aaaa-1", "/work/alpha", Meta{})
	c.Advance(time.Minute)
	r.Track("bbbb-2", "/work/beta", Meta{})
	c.Advance(time.Minute)
	r.Track("aaaa-1", "/work/alpha", Meta{})

	list := r.List()
	if len(list) != 2 || list[0].ID != "aaaa-1" || list[1].ID != "bbbb-2" {
		t.Fatalf("List() = %+v, want aaaa-1 then bbbb-2", list)
	}

	found, ok := r.FindByPrefix("bbbb")
	if !ok || found.ID != "bbbb-2" {
		t.Fatalf("FindByPrefix(bbbb) = %+v, %v", found, ok)
	}
	if _, ok := r.FindByPrefix("zzzz"); ok {
		t.Fatalf("FindByPrefix(zzzz) ok = true, want false")
	}

	views := r.Views()
	if !views[0].Active || views[1].Active {
		t.Fatalf("Views() active flags = %v/%v, want true/false", views[0].Active, views[1].Active)
	}
}

func TestRegistryClear(t *testing.T) {
	r, _ := newTestRegistry()
	r.Track("aaaa-1", "/work/alpha", Meta{})
	r.Track("bbbb-2", "/work/beta", Meta{})

	ids := r.Clear()
	if len(ids) != 2 {
		t.Fatalf("Clear() = %v, want 2 ids", ids)
	}
	if _, ok := r.Active(); ok {
		t.Fatalf("Active() ok = true after Clear, want false")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	if _, err := r.Get("aaaa-1"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryTrackHook(t *testing.T) {
	r, _ := newTestRegistry()
	var seen []string
	r.SetTrackHook(func(s Session) { seen = append(seen, s.ID) })

	r.Track("aaaa-1", "/work/alpha", Meta{})
	r.Track("", "/work/alpha", Meta{})

	if len(seen) != 1 || seen[0] != "aaaa-1" {
		t.Fatalf("hook calls = %v, want [aaaa-1]", seen)
	}
}
