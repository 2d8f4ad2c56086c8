package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Community is the context a tracking epoch belongs to.
type Community struct {
	ID   string
	Name string
}

// MemberStatus is one row of a snapshot listing.
type MemberStatus struct {
	ID     EntityID
	Status Status
}

// Transition is the effect a presence notification had on the roster.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionOnline
	TransitionOffline
)

func (t Transition) String() string {
	switch t {
	case TransitionOnline:
		return "online"
	case TransitionOffline:
		return "offline"
	default:
		return "none"
	}
}

// Tracker applies snapshots and presence notifications to a Store and
// answers roster queries against it.
type Tracker struct {
	store  *Store
	now    func() time.Time
	policy LookupPolicy
	log    *zap.Logger

	// mu makes the epoch swap atomic: it is held while the community and
	// the store contents change together. Lock order is mu, then the store.
	mu        sync.Mutex
	community *Community
}

type TrackerOption func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func WithLookupPolicy(policy LookupPolicy) TrackerOption {
	return func(t *Tracker) { t.policy = policy }
}

func WithLogger(log *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

func NewTracker(store *Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		policy: LookupAbort,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Community returns the community of the current epoch, or nil.
func (t *Tracker) Community() *Community {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.communityLocked()
}

func (t *Tracker) communityLocked() *Community {
	if t.community == nil {
		return nil
	}
	c := *t.community
	return &c
}

// epoch returns the current community together with the entries of its epoch.
func (t *Tracker) epoch() (*Community, []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.communityLocked(), t.store.Snapshot()
}

func (t *Tracker) Len() int {
	return t.store.Len()
}

// LoadSnapshot starts a new epoch from a full status listing and returns the
// number of members tracked as online. A nil community leaves the roster empty.
func (t *Tracker) LoadSnapshot(community *Community, members []MemberStatus) int {
	if community == nil {
		t.log.Warn("snapshot skipped, tracking with an empty roster", zap.Error(ErrMissingContext))
		t.mu.Lock()
		t.community = nil
		t.store.ReplaceAll(nil)
		t.mu.Unlock()
		return 0
	}

	now := t.now()
	entries := make(map[EntityID]time.Time)
	for _, m := range members {
		if IsOnline(m.Status) {
			entries[m.ID] = now
		}
	}

	c := *community
	t.mu.Lock()
	t.community = &c
	t.store.ReplaceAll(entries)
	t.mu.Unlock()

	t.log.Info("snapshot loaded",
		zap.String("community", c.ID),
		zap.String("name", c.Name),
		zap.Int("members", len(members)),
		zap.Int("online", len(entries)))
	return len(entries)
}

// Apply moves id between offline and online according to status.
// Same-direction notifications are no-ops.
func (t *Tracker) Apply(id EntityID, status Status) Transition {
	if IsOnline(status) {
		if t.store.Upsert(id, t.now()) {
			return TransitionOnline
		}
		return TransitionNone
	}
	if t.store.Remove(id) {
		return TransitionOffline
	}
	return TransitionNone
}
