package autorecord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webcorder/webcorder/internal/resolver"
	"github.com/webcorder/webcorder/internal/session"
)

type fakeProcess struct{}

func (fakeProcess) PID() int            { return 42 }
func (fakeProcess) Exited() (int, bool) { return 0, false }
func (fakeProcess) Quit() error         { return nil }
func (fakeProcess) Kill() error         { return nil }

type fakeSupervisor struct {
	mu      sync.Mutex
	reg     *session.Registry
	offline map[string]bool
	checks  map[string]int
	starts  map[string]int
}

func newFakeSupervisor(reg *session.Registry) *fakeSupervisor {
	return &fakeSupervisor{
		reg:     reg,
		offline: map[string]bool{},
		checks:  map[string]int{},
		starts:  map[string]int{},
	}
}

func (f *fakeSupervisor) setOffline(id string, offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline[id] = offline
}

func (f *fakeSupervisor) Check(_ context.Context, id string) (session.Session, error) {
	f.mu.Lock()
	f.checks[id]++
	offline := f.offline[id]
	f.mu.Unlock()

	if offline {
		s, err := f.reg.Update(id, func(cur *session.Session) { cur.Status = session.StatusNoStream })
		if err != nil {
			return s, err
		}
		return s, resolver.ErrNoStream
	}
	return f.reg.Update(id, func(cur *session.Session) {
		cur.Status = session.StatusLive
		cur.ResolvedURL = "https://cdn.example.com/" + id + ".m3u8"
	})
}

func (f *fakeSupervisor) Start(_ context.Context, id string) (session.Session, error) {
	f.mu.Lock()
	f.starts[id]++
	f.mu.Unlock()
	return f.reg.BeginRecording(id, fakeProcess{}, "/rec/"+id+".mp4")
}

func (f *fakeSupervisor) counts(id string) (checks, starts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[id], f.starts[id]
}

type fakeStore struct {
	mu       sync.Mutex
	flags    map[string]bool
	settings session.Settings
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{flags: map[string]bool{}}
}

func (s *fakeStore) SetAutoRecord(url string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.flags[url] = on
	return nil
}

func (s *fakeStore) UpdateSettings(fn func(*session.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	fn(&s.settings)
	return nil
}

type harness struct {
	reg    *session.Registry
	sup    *fakeSupervisor
	store  *fakeStore
	poller *Poller
}

func newHarness(opts Options) *harness {
	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	store := newFakeStore()
	return &harness{
		reg:    reg,
		sup:    sup,
		store:  store,
		poller: New(reg, sup, store, opts, zerolog.Nop()),
	}
}

func TestAddRemoveToggle(t *testing.T) {
	h := newHarness(Options{})
	s := h.reg.Add("https://example.com/alice", false)

	require.NoError(t, h.poller.Add(s.ID))
	assert.True(t, h.poller.IsMonitored(s.ID))
	assert.Equal(t, 1, h.poller.Count())
	assert.True(t, h.store.flags[s.SourceURL])
	got, _ := h.reg.Get(s.ID)
	assert.True(t, got.AutoRecord)

	on, err := h.poller.Toggle(s.ID)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, h.poller.IsMonitored(s.ID))
	assert.False(t, h.store.flags[s.SourceURL])
	got, _ = h.reg.Get(s.ID)
	assert.False(t, got.AutoRecord)

	on, err = h.poller.Toggle(s.ID)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, Status{Monitored: true}, h.poller.Status(s.ID))
}

func TestAddUnknownSession(t *testing.T) {
	h := newHarness(Options{})

	err := h.poller.Add("missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, h.poller.IsMonitored("missing"))
	assert.NoError(t, h.poller.Remove("missing"))
}

func TestAddPersistFailure(t *testing.T) {
	h := newHarness(Options{})
	h.store.err = errors.New("disk full")
	s := h.reg.Add("https://example.com/alice", false)

	err := h.poller.Add(s.ID)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, h.poller.IsMonitored(s.ID))
}

func TestCheckOnceStartsLiveSession(t *testing.T) {
	h := newHarness(Options{})
	s := h.reg.Add("https://example.com/alice", false)
	require.NoError(t, h.poller.Add(s.ID))

	res := h.poller.CheckOnce(context.Background())
	assert.Equal(t, Result{Checked: 1, Started: 1}, res)

	got, _ := h.reg.Get(s.ID)
	assert.True(t, got.IsRecording())
	assert.Zero(t, h.poller.Failures(s.ID))

	// A recording session is skipped on the next pass.
	res = h.poller.CheckOnce(context.Background())
	assert.Equal(t, Result{}, res)
	checks, starts := h.sup.counts(s.ID)
	assert.Equal(t, 1, checks)
	assert.Equal(t, 1, starts)
}

func TestCheckOnceFailureCounterWraps(t *testing.T) {
	h := newHarness(Options{RetryLimit: 3})
	s := h.reg.Add("https://example.com/alice", false)
	require.NoError(t, h.poller.Add(s.ID))
	h.sup.setOffline(s.ID, true)

	want := []int{1, 2, 0, 1}
	for i, w := range want {
		res := h.poller.CheckOnce(context.Background())
		assert.Equal(t, Result{Checked: 1, Failed: 1}, res, "pass %d", i)
		assert.Equal(t, w, h.poller.Failures(s.ID), "pass %d", i)
		assert.True(t, h.poller.IsMonitored(s.ID), "pass %d", i)
	}

	h.sup.setOffline(s.ID, false)
	res := h.poller.CheckOnce(context.Background())
	assert.Equal(t, 1, res.Started)
	assert.Zero(t, h.poller.Failures(s.ID))
}

func TestAddResetsFailures(t *testing.T) {
	h := newHarness(Options{RetryLimit: 5})
	s := h.reg.Add("https://example.com/alice", false)
	require.NoError(t, h.poller.Add(s.ID))
	h.sup.setOffline(s.ID, true)

	h.poller.CheckOnce(context.Background())
	h.poller.CheckOnce(context.Background())
	require.Equal(t, 2, h.poller.Failures(s.ID))

	require.NoError(t, h.poller.Add(s.ID))
	assert.Zero(t, h.poller.Failures(s.ID))
}

func TestCheckOnceDropsRemovedSessions(t *testing.T) {
	h := newHarness(Options{})
	s := h.reg.Add("https://example.com/alice", false)
	require.NoError(t, h.poller.Add(s.ID))
	require.NoError(t, h.reg.Remove(s.ID))

	res := h.poller.CheckOnce(context.Background())
	assert.Equal(t, Result{}, res)
	assert.False(t, h.poller.IsMonitored(s.ID))
	assert.Zero(t, h.poller.Count())
}

func TestCheckOnceParallel(t *testing.T) {
	h := newHarness(Options{Workers: 4, Stagger: time.Millisecond})

	var ids []string
	for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		s := h.reg.Add("https://example.com/"+name, false)
		require.NoError(t, h.poller.Add(s.ID))
		ids = append(ids, s.ID)
	}
	h.sup.setOffline(ids[1], true)

	res := h.poller.CheckOnce(context.Background())
	assert.Equal(t, Result{Checked: 5, Started: 4, Failed: 1}, res)
	assert.Equal(t, 1, h.poller.Failures(ids[1]))
}

func TestCheckOnceCancelled(t *testing.T) {
	h := newHarness(Options{})
	s := h.reg.Add("https://example.com/alice", false)
	require.NoError(t, h.poller.Add(s.ID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.poller.CheckOnce(ctx)
	assert.Equal(t, Result{}, res)
	checks, _ := h.sup.counts(s.ID)
	assert.Zero(t, checks)
}

func TestSetEnabledPersists(t *testing.T) {
	h := newHarness(Options{})
	assert.False(t, h.poller.Enabled())

	require.NoError(t, h.poller.SetEnabled(true))
	assert.True(t, h.poller.Enabled())
	assert.True(t, h.store.settings.AutoRecordEnabled)

	require.NoError(t, h.poller.SetEnabled(false))
	assert.False(t, h.store.settings.AutoRecordEnabled)
}

func TestRestore(t *testing.T) {
	h := newHarness(Options{})
	a := h.reg.Add("https://example.com/alice", true)
	h.reg.Add("https://example.com/bob", false)

	assert.Equal(t, 1, h.poller.Restore(true))
	assert.True(t, h.poller.Enabled())
	assert.True(t, h.poller.IsMonitored(a.ID))
	assert.Equal(t, 1, h.poller.Count())
	assert.Empty(t, h.store.flags, "restoring does not write back")
}

func TestServeOnlyWhenEnabled(t *testing.T) {
	h := newHarness(Options{Interval: 5 * time.Millisecond})
	s := h.reg.Add("https://example.com/alice", false)
	require.NoError(t, h.poller.Add(s.ID))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.poller.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	checks, _ := h.sup.counts(s.ID)
	assert.Zero(t, checks, "disabled poller must not check")

	require.NoError(t, h.poller.SetEnabled(true))
	assert.Eventually(t, func() bool {
		_, starts := h.sup.counts(s.ID)
		return starts == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func newStoreHarness(t *testing.T, opts Options) (*harness, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), session.Settings{OutputFolder: "/rec"}, zerolog.Nop())
	require.NoError(t, err)
	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	return &harness{reg: reg, sup: sup, poller: New(reg, sup, store, opts, zerolog.Nop())}, store
}

func TestSyncFollowsStore(t *testing.T) {
	h, store := newStoreHarness(t, Options{})
	require.NoError(t, store.AddModel("https://example.com/alice", false))
	require.NoError(t, store.AddModel("https://example.com/bob", true))

	alice := h.reg.Add("https://example.com/alice", false)
	carol := h.reg.Add("https://example.com/carol", true)
	dave := h.reg.Add("https://example.com/dave", false)
	_, err := h.reg.BeginRecording(dave.ID, fakeProcess{}, "/rec/dave.mp4")
	require.NoError(t, err)
	h.poller.Restore(false)
	require.True(t, h.poller.IsMonitored(carol.ID))

	added, removed := h.poller.Sync(store.Load())
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	bob, ok := h.reg.FindByURL("https://example.com/bob")
	require.True(t, ok)
	assert.True(t, h.poller.IsMonitored(bob.ID))
	assert.False(t, h.poller.IsMonitored(alice.ID))

	_, ok = h.reg.Get(carol.ID)
	assert.False(t, ok, "pages removed elsewhere leave the registry")
	assert.False(t, h.poller.IsMonitored(carol.ID))

	_, ok = h.reg.Get(dave.ID)
	assert.True(t, ok, "a recording session is never dropped")

	// Flags toggled by another process
	require.NoError(t, store.SetAutoRecord("https://example.com/alice", true))
	require.NoError(t, store.SetAutoRecord("https://example.com/bob", false))
	require.NoError(t, store.UpdateSettings(func(s *session.Settings) { s.AutoRecordEnabled = true }))

	added, removed = h.poller.Sync(store.Load())
	assert.Zero(t, added)
	assert.Zero(t, removed)
	assert.True(t, h.poller.Enabled())
	assert.True(t, h.poller.IsMonitored(alice.ID))
	assert.False(t, h.poller.IsMonitored(bob.ID))
	got, _ := h.reg.Get(alice.ID)
	assert.True(t, got.AutoRecord)
}

func TestServePicksUpPagesAddedElsewhere(t *testing.T) {
	h, store := newStoreHarness(t, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- h.poller.Serve(ctx) }()

	require.NoError(t, store.UpdateSettings(func(s *session.Settings) { s.AutoRecordEnabled = true }))
	require.NoError(t, store.AddModel("https://example.com/erin", true))

	assert.Eventually(t, func() bool {
		sess, ok := h.reg.FindByURL("https://example.com/erin")
		if !ok {
			return false
		}
		_, starts := h.sup.counts(sess.ID)
		return starts == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
