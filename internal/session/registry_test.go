package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid int
}

func (p *fakeProcess) PID() int            { return p.pid }
func (p *fakeProcess) Exited() (int, bool) { return 0, false }
func (p *fakeProcess) Quit() error         { return nil }
func (p *fakeProcess) Kill() error         { return nil }

// assertInvariant checks Process != nil <=> Status == Recording for every session.
func assertInvariant(t *testing.T, r *Registry) {
	t.Helper()
	for _, s := range r.List() {
		assert.Equal(t, s.Process != nil, s.Status == StatusRecording, "session %s: status %s", s.ID, s.Status)
	}
}

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()

	a := r.Add("https://example.com/alice", false)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StatusIdle, a.Status)

	again := r.Add("https://example.com/alice", true)
	assert.Equal(t, a.ID, again.ID, "adding a tracked url returns the existing session")

	b := r.Add("https://example.com/bob", true)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, r.List(), 2)

	found, ok := r.FindByURL("https://example.com/bob")
	require.True(t, ok)
	assert.Equal(t, b.ID, found.ID)
	assert.True(t, found.AutoRecord)
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	s := r.Add("https://example.com/alice", false)

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	got.Status = StatusError
	got.ResolvedURL = "https://x/a.m3u8"

	fresh, _ := r.Get(s.ID)
	assert.Equal(t, StatusIdle, fresh.Status)
	assert.Empty(t, fresh.ResolvedURL)
}

func TestRegistryRecordingLifecycle(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	now := base
	r := NewRegistry()
	r.now = func() time.Time { return now }

	s := r.Add("https://example.com/alice", false)
	proc := &fakeProcess{pid: 7}

	started, err := r.BeginRecording(s.ID, proc, "/tmp/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, started.Status)
	assert.Equal(t, "/tmp/out.mp4", started.OutputPath)
	assertInvariant(t, r)

	now = base.Add(90 * time.Second)
	cur, _ := r.Get(s.ID)
	assert.EqualValues(t, 90, cur.ElapsedSeconds(now))

	ended, ok := r.EndRecording(s.ID, proc, StatusIdle)
	require.True(t, ok)
	assert.Equal(t, StatusIdle, ended.Status)
	assert.Nil(t, ended.Process)
	assert.EqualValues(t, 90, ended.ElapsedSeconds(base.Add(time.Hour)), "elapsed is frozen after stop")
	assertInvariant(t, r)

	// A new recording resets the counter.
	_, err = r.BeginRecording(s.ID, &fakeProcess{pid: 8}, "/tmp/out2.mp4")
	require.NoError(t, err)
	cur, _ = r.Get(s.ID)
	assert.EqualValues(t, 0, cur.ElapsedSeconds(now))
}

func TestRegistryEndRecordingIgnoresReplacedProcess(t *testing.T) {
	r := NewRegistry()
	s := r.Add("https://example.com/alice", false)

	old := &fakeProcess{pid: 1}
	_, err := r.BeginRecording(s.ID, old, "a.mp4")
	require.NoError(t, err)

	_, ok := r.EndRecording(s.ID, old, StatusIdle)
	require.True(t, ok)

	replacement := &fakeProcess{pid: 2}
	_, err = r.BeginRecording(s.ID, replacement, "b.mp4")
	require.NoError(t, err)

	_, ok = r.EndRecording(s.ID, old, StatusError)
	assert.False(t, ok, "a stale handle must not end the new recording")

	cur, _ := r.Get(s.ID)
	assert.Equal(t, StatusRecording, cur.Status)
	assert.Equal(t, replacement, cur.Process)
}

func TestRegistryBeginRecordingTwice(t *testing.T) {
	r := NewRegistry()
	s := r.Add("https://example.com/alice", false)

	first := &fakeProcess{pid: 1}
	_, err := r.BeginRecording(s.ID, first, "a.mp4")
	require.NoError(t, err)

	cur, err := r.BeginRecording(s.ID, &fakeProcess{pid: 2}, "b.mp4")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, first, cur.Process)
	assert.Equal(t, "a.mp4", cur.OutputPath)
	assertInvariant(t, r)
}

func TestRegistryUpdateKeepsInvariant(t *testing.T) {
	r := NewRegistry()
	idle := r.Add("https://example.com/alice", false)
	rec := r.Add("https://example.com/bob", false)
	_, err := r.BeginRecording(rec.ID, &fakeProcess{pid: 3}, "b.mp4")
	require.NoError(t, err)

	_, err = r.Update(idle.ID, func(s *Session) { s.Status = StatusRecording })
	require.NoError(t, err)
	_, err = r.Update(rec.ID, func(s *Session) {
		s.Status = StatusIdle
		s.Process = nil
	})
	require.NoError(t, err)

	assertInvariant(t, r)

	_, err = r.Update("missing", func(s *Session) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	s := r.Add("https://example.com/alice", false)
	rec := r.Add("https://example.com/bob", false)
	_, err := r.BeginRecording(rec.ID, &fakeProcess{pid: 3}, "b.mp4")
	require.NoError(t, err)

	require.NoError(t, r.Remove(s.ID))
	_, ok := r.Get(s.ID)
	assert.False(t, ok)

	assert.Error(t, r.Remove(rec.ID), "recording sessions cannot be removed")
	assert.ErrorIs(t, r.Remove("missing"), ErrNotFound)
}

func TestIDSet(t *testing.T) {
	set := NewIDSet()

	assert.True(t, set.Add("b"))
	assert.True(t, set.Add("a"))
	assert.False(t, set.Add("a"))
	assert.Equal(t, []string{"a", "b"}, set.Snapshot())

	snap := set.Snapshot()
	set.Remove("a")
	assert.Equal(t, []string{"a", "b"}, snap, "snapshots are independent of later changes")
	assert.False(t, set.Has("a"))
	assert.Equal(t, 1, set.Len())

	set.Clear()
	assert.Equal(t, 0, set.Len())
}
