package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *Store, *fakeClock) {
	clock := &fakeClock{now: t0}
	store := NewStore()
	return NewTracker(store, WithClock(clock.Now)), store, clock
}

var guild = &Community{ID: "g1", Name: "guild"}

func TestLoadSnapshotKeepsOnlyOnline(t *testing.T) {
	tr, store, _ := newTestTracker()

	n := tr.LoadSnapshot(guild, []MemberStatus{
		{ID: "a", Status: StatusActive},
		{ID: "b", Status: StatusOffline},
		{ID: "c", Status: StatusBusy},
		{ID: "d", Status: "something-new"},
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, map[EntityID]time.Time{"a": t0, "c": t0}, snapshotMap(store))
	assert.Equal(t, guild, tr.Community())
}

func TestLoadSnapshotStartsNewEpoch(t *testing.T) {
	tr, store, clock := newTestTracker()
	tr.LoadSnapshot(guild, []MemberStatus{{ID: "a", Status: StatusActive}, {ID: "b", Status: StatusIdle}})

	clock.Advance(time.Hour)
	tr.LoadSnapshot(guild, []MemberStatus{{ID: "a", Status: StatusActive}})

	assert.Equal(t, map[EntityID]time.Time{"a": t0.Add(time.Hour)}, snapshotMap(store))
}

func TestLoadSnapshotWithoutCommunity(t *testing.T) {
	tr, store, _ := newTestTracker()
	tr.LoadSnapshot(guild, []MemberStatus{{ID: "a", Status: StatusActive}})

	n := tr.LoadSnapshot(nil, []MemberStatus{{ID: "b", Status: StatusActive}})

	assert.Zero(t, n)
	assert.Zero(t, store.Len())
	assert.Nil(t, tr.Community())
}

func TestApplyTransitions(t *testing.T) {
	tr, store, clock := newTestTracker()

	assert.Equal(t, TransitionOnline, tr.Apply("a", StatusActive))
	clock.Advance(5 * time.Second)
	assert.Equal(t, TransitionNone, tr.Apply("a", StatusActive))
	assert.Equal(t, TransitionNone, tr.Apply("a", StatusBusy))
	assert.Equal(t, map[EntityID]time.Time{"a": t0}, snapshotMap(store))

	assert.Equal(t, TransitionOffline, tr.Apply("a", StatusOffline))
	assert.Equal(t, TransitionNone, tr.Apply("a", StatusOffline))
	assert.Zero(t, store.Len())
}

func TestApplyUnknownStatusWhenAbsent(t *testing.T) {
	tr, store, _ := newTestTracker()

	assert.Equal(t, TransitionNone, tr.Apply("a", "unknown-future-status"))
	assert.Zero(t, store.Len())
}

func TestApplyUnknownStatusRemovesTracked(t *testing.T) {
	tr, store, _ := newTestTracker()
	tr.LoadSnapshot(guild, []MemberStatus{{ID: "a", Status: StatusActive}})

	assert.Equal(t, TransitionOffline, tr.Apply("a", "unknown-future-status"))
	assert.False(t, store.Contains("a"))
}

func TestMembershipFollowsLastNotification(t *testing.T) {
	type note struct {
		id     EntityID
		status Status
	}
	seqs := [][]note{
		{{"a", StatusActive}, {"a", StatusOffline}, {"a", StatusIdle}},
		{{"a", StatusIdle}, {"b", StatusBusy}, {"a", "x"}, {"b", StatusInvisible}},
		{{"a", StatusOffline}, {"a", StatusOffline}},
		{{"b", StatusActive}, {"a", StatusActive}, {"b", StatusOffline}, {"a", StatusBusy}},
	}
	for i, seq := range seqs {
		tr, store, clock := newTestTracker()
		last := make(map[EntityID]Status)
		for _, n := range seq {
			tr.Apply(n.id, n.status)
			last[n.id] = n.status
			clock.Advance(time.Second)
		}
		for id, status := range last {
			assert.Equal(t, IsOnline(status), store.Contains(id), "sequence %d id %s", i, id)
		}
	}
}

func TestApplyConcurrentDuplicatesInsertOnce(t *testing.T) {
	tr, store, _ := newTestTracker()

	var wg sync.WaitGroup
	results := make(chan Transition, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tr.Apply("a", StatusActive)
		}()
	}
	wg.Wait()
	close(results)

	online := 0
	for r := range results {
		if r == TransitionOnline {
			online++
		}
	}
	require.Equal(t, 1, online)
	assert.Equal(t, 1, store.Len())
}
