package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is not in the registry
var ErrNotFound = errors.New("session not found")

// ErrAlreadyRecording is returned by BeginRecording when the session already
// owns a capture process
var ErrAlreadyRecording = errors.New("session is already recording")

// Registry is the single source of truth for session state.
//
// Lock discipline: mu guards the map and every Session it points to. No method
// holds mu while calling out to the network or to a process, and readers only
// ever receive copies, so callers must look a session up again by id after any
// blocking call instead of caching it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Add registers a new Idle session for sourceURL and returns its copy.
// Adding a URL that is already tracked returns the existing session.
func (r *Registry) Add(sourceURL string, autoRecord bool) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.SourceURL == sourceURL {
			return *s
		}
	}

	s := &Session{
		ID:         uuid.NewString(),
		SourceURL:  sourceURL,
		Status:     StatusIdle,
		AutoRecord: autoRecord,
		CreatedAt:  r.now(),
	}
	r.sessions[s.ID] = s
	return *s
}

// Remove deletes a session. The caller must stop any recording first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Process != nil {
		return fmt.Errorf("session %s is still recording", id)
	}
	s.ResolvedURL = ""
	delete(r.sessions, id)
	return nil
}

// Get returns a copy of the session with the given id
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// FindByURL returns the session tracking sourceURL
func (r *Registry) FindByURL(sourceURL string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.SourceURL == sourceURL {
			return *s, true
		}
	}
	return Session{}, false
}

// List returns copies of all sessions ordered by creation time
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IDs returns the ids of all sessions
func (r *Registry) IDs() []string {
	list := r.List()
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}

// Update applies fn to the stored session. fn must not block and must not
// touch Process or the recording state; use BeginRecording and EndRecording.
func (r *Registry) Update(id string, fn func(s *Session)) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	proc, status := s.Process, s.Status
	fn(s)
	// Keep Process and StatusRecording in lock-step regardless of what fn did.
	s.Process = proc
	if proc != nil {
		s.Status = StatusRecording
	} else if s.Status == StatusRecording {
		s.Status = status
	}
	return *s, nil
}

// BeginRecording attaches proc to the session and marks it Recording.
// The elapsed counter restarts from zero.
func (r *Registry) BeginRecording(id string, proc Process, outputPath string) (Session, error) {
	if proc == nil {
		return Session{}, errors.New("begin recording: nil process")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Process != nil {
		return *s, fmt.Errorf("%w: %s", ErrAlreadyRecording, id)
	}
	s.Process = proc
	s.Status = StatusRecording
	s.OutputPath = outputPath
	s.recordingStarted = r.now()
	s.elapsed = 0
	return *s, nil
}

// EndRecording detaches the process if it is still the one given, freezes the
// elapsed counter and moves the session to status. It returns false when the
// session no longer owns proc, which happens when a concurrent stop or restart
// already replaced it.
func (r *Registry) EndRecording(id string, proc Process, status Status) (Session, bool) {
	if status == StatusRecording {
		status = StatusIdle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Process == nil || (proc != nil && s.Process != proc) {
		if ok {
			return *s, false
		}
		return Session{}, false
	}
	s.elapsed = r.now().Sub(s.recordingStarted)
	s.Process = nil
	s.Status = status
	return *s, true
}

// Recording returns copies of all sessions that own a capture process
func (r *Registry) Recording() []Session {
	var out []Session
	for _, s := range r.List() {
		if s.Process != nil {
			out = append(out, s)
		}
	}
	return out
}
