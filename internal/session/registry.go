package session

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ent0n29/turnstile/internal/clock"
)

var ErrNotFound = errors.New("session not found")

// Registry tracks reported sessions and which one is active. The active
// pointer is only ever written by Track and SetActive, so it always names a
// known session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	activeID string
	clock    clock.Clock
	onTrack  func(Session)
}

func NewRegistry(c clock.Clock) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    clock.OrReal(c),
	}
}

// SetTrackHook registers a callback invoked after every successful Track.
func (r *Registry) SetTrackHook(hook func(Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrack = hook
}

// Track upserts the session and makes it active. The working directory of a
// known session is never changed; labels are refreshed and the turn count
// increments. A blank id is ignored and returns the zero Session.
func (r *Registry) Track(id, cwd string, meta Meta) Session {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}
	}
	now := r.clock.Now()

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = &Session{ID: id, WorkingDirectory: cwd, Branch: UnknownBranch}
		r.sessions[id] = s
	}
	if project := strings.TrimSpace(meta.Project); project != "" {
		s.Project = project
	} else if s.Project == "" {
		s.Project = defaultProject(s.WorkingDirectory)
	}
	if branch := strings.TrimSpace(meta.Branch); branch != "" {
		s.Branch = branch
	}
	s.LastSeenAt = now
	s.TurnCount++
	r.activeID = id
	out := *s
	hook := r.onTrack
	r.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return out
}

// Active returns the active session, if any.
func (r *Registry) Active() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return Session{}, false
	}
	s, ok := r.sessions[r.activeID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Get returns a known session by exact id.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// SetActive points the active session at id. Unknown ids leave the registry
// untouched and return false.
func (r *Registry) SetActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	r.activeID = id
	return true
}

// List returns every session, most recently seen first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out
}

// Views returns List annotated with the active flag.
func (r *Registry) Views() []View {
	active, _ := r.Active()
	sessions := r.List()
	out := make([]View, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, View{Session: s, Active: s.ID == active.ID})
	}
	return out
}

// FindByPrefix returns the most recently seen session whose id starts with
// prefix.
func (r *Registry) FindByPrefix(prefix string) (Session, bool) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Session{}, false
	}
	for _, s := range r.List() {
		if strings.HasPrefix(s.ID, prefix) {
			return s, true
		}
	}
	return Session{}, false
}

// Len reports the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Clear forgets every session and unsets the active pointer. It returns the
// ids that were removed.
func (r *Registry) Clear() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	r.sessions = make(map[string]*Session)
	r.activeID = ""
	return ids
}

func defaultProject(cwd string) string {
	cwd = strings.TrimSpace(cwd)
	if cwd == "" {
		return "unknown"
	}
	base := filepath.Base(filepath.Clean(cwd))
	if base == "." || base == string(filepath.Separator) {
		return cwd
	}
	return base
}
