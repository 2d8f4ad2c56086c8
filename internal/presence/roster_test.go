package presence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	names map[EntityID]string
	calls []string
}

var errUnknownMember = errors.New("unknown member")

func (d *fakeDirectory) DisplayName(_ context.Context, communityID string, id EntityID) (string, error) {
	d.calls = append(d.calls, communityID+"/"+string(id))
	name, ok := d.names[id]
	if !ok {
		return "", errUnknownMember
	}
	return name, nil
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                     "0h 0m 0s",
		3661 * time.Second:                    "1h 1m 1s",
		59*time.Second + time.Millisecond*999: "0h 0m 59s",
		26*time.Hour + 5*time.Minute:          "26h 5m 0s",
		-time.Minute:                          "0h 0m 0s",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatDuration(d), "duration %s", d)
	}
}

func TestRosterElapsed(t *testing.T) {
	tr, store, clock := newTestTracker()
	tr.LoadSnapshot(guild, nil)
	store.ReplaceAll(map[EntityID]time.Time{"a": t0, "b": t0.Add(time.Hour)})
	clock.Advance(3661 * time.Second)
	dir := &fakeDirectory{names: map[EntityID]string{"a": "Alice", "b": "Bob"}}

	lines, err := tr.Roster(context.Background(), dir, guild)

	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, RosterLine{ID: "a", Name: "Alice", Online: 3661 * time.Second}, lines[0])
	assert.Equal(t, "1h 1m 1s", FormatDuration(lines[0].Online))
	assert.Equal(t, "0h 1m 1s", FormatDuration(lines[1].Online))
	assert.ElementsMatch(t, []string{"g1/a", "g1/b"}, dir.calls)
}

// reentrantDirectory mutates the tracker from inside a lookup.
type reentrantDirectory struct {
	tr *Tracker
}

func (d reentrantDirectory) DisplayName(_ context.Context, _ string, id EntityID) (string, error) {
	d.tr.Apply("late-"+id, StatusActive)
	d.tr.Apply("a", StatusOffline)
	_ = d.tr.Community()
	return string(id), nil
}

func TestRosterLooksUpOutsideLocks(t *testing.T) {
	tr, store, _ := newTestTracker()
	tr.LoadSnapshot(guild, []MemberStatus{{ID: "a", Status: StatusActive}, {ID: "b", Status: StatusIdle}})

	done := make(chan []RosterLine, 1)
	go func() {
		lines, err := tr.Roster(context.Background(), reentrantDirectory{tr: tr}, guild)
		assert.NoError(t, err)
		done <- lines
	}()

	select {
	case lines := <-done:
		assert.Len(t, lines, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("roster query blocked while resolving names")
	}
	assert.True(t, store.Contains("late-a"))
	assert.True(t, store.Contains("late-b"))
	assert.False(t, store.Contains("a"))
}

func TestRosterOtherCommunity(t *testing.T) {
	tr, _, _ := newTestTracker()
	dir := &fakeDirectory{names: map[EntityID]string{"a": "Alice"}}

	_, err := tr.Roster(context.Background(), dir, guild)
	assert.ErrorIs(t, err, ErrNotMonitored, "before any snapshot")

	tr.LoadSnapshot(guild, []MemberStatus{{ID: "a", Status: StatusActive}})
	_, err = tr.Roster(context.Background(), dir, &Community{ID: "g2"})
	assert.ErrorIs(t, err, ErrNotMonitored)
	assert.Empty(t, dir.calls)
}

// prefixDirectory only resolves members whose ID starts with the community ID.
type prefixDirectory struct{}

func (prefixDirectory) DisplayName(_ context.Context, communityID string, id EntityID) (string, error) {
	if !strings.HasPrefix(string(id), communityID+"-") {
		return "", errUnknownMember
	}
	return string(id), nil
}

func TestRosterNeverMixesEpochs(t *testing.T) {
	tr, _, _ := newTestTracker()
	g2 := &Community{ID: "g2"}
	epochs := []struct {
		community *Community
		members   []MemberStatus
	}{
		{guild, []MemberStatus{{ID: "g1-a", Status: StatusActive}, {ID: "g1-b", Status: StatusBusy}}},
		{g2, []MemberStatus{{ID: "g2-a", Status: StatusActive}}},
	}
	tr.LoadSnapshot(epochs[0].community, epochs[0].members)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			e := epochs[i%2]
			tr.LoadSnapshot(e.community, e.members)
		}
	}()

	for i := 0; i < 500; i++ {
		lines, err := tr.Roster(context.Background(), prefixDirectory{}, guild)
		if errors.Is(err, ErrNotMonitored) {
			continue
		}
		require.NoError(t, err)
		assert.Len(t, lines, 2)
	}
	close(stop)
	wg.Wait()
}

func TestRosterWithoutCommunity(t *testing.T) {
	tr, store, _ := newTestTracker()
	store.Upsert("a", t0)

	_, err := tr.Roster(context.Background(), &fakeDirectory{}, nil)

	assert.ErrorIs(t, err, ErrNoContext)
}

func TestRosterLookupFailureAborts(t *testing.T) {
	tr, store, _ := newTestTracker()
	tr.LoadSnapshot(guild, nil)
	store.ReplaceAll(map[EntityID]time.Time{"a": t0, "gone": t0})
	dir := &fakeDirectory{names: map[EntityID]string{"a": "Alice"}}

	lines, err := tr.Roster(context.Background(), dir, guild)

	assert.Nil(t, lines)
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, EntityID("gone"), lookupErr.ID)
	assert.ErrorIs(t, err, errUnknownMember)
}

func TestRosterLookupFailureSkips(t *testing.T) {
	clock := &fakeClock{now: t0}
	store := NewStore()
	tr := NewTracker(store, WithClock(clock.Now), WithLookupPolicy(LookupSkip))
	tr.LoadSnapshot(guild, nil)
	store.ReplaceAll(map[EntityID]time.Time{"a": t0, "gone": t0})
	dir := &fakeDirectory{names: map[EntityID]string{"a": "Alice"}}

	lines, err := tr.Roster(context.Background(), dir, guild)

	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Alice", lines[0].Name)
}

func TestRenderRoster(t *testing.T) {
	out := RenderRoster([]RosterLine{
		{ID: "a", Name: "Alice", Online: 3661 * time.Second},
		{ID: "b", Name: "Bob", Online: 42 * time.Second},
	})
	assert.Equal(t,
		"the following users are online:\n"+
			"Alice has been connected for 1h 1m 1s\n"+
			"Bob has been connected for 0h 0m 42s\n", out)

	assert.Equal(t, "nobody is online right now", RenderRoster(nil))
}

func TestParseLookupPolicy(t *testing.T) {
	p, err := ParseLookupPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LookupAbort, p)

	p, err = ParseLookupPolicy(" Skip ")
	require.NoError(t, err)
	assert.Equal(t, LookupSkip, p)

	_, err = ParseLookupPolicy("retry")
	assert.Error(t, err)
}
