package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Directory resolves display names of community members.
type Directory interface {
	DisplayName(ctx context.Context, communityID string, id EntityID) (string, error)
}

// LookupPolicy decides what a roster query does when a name cannot be resolved.
type LookupPolicy int

const (
	// LookupAbort fails the whole query.
	LookupAbort LookupPolicy = iota
	// LookupSkip leaves the member out of the reply.
	LookupSkip
)

func ParseLookupPolicy(s string) (LookupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return LookupAbort, nil
	case "skip":
		return LookupSkip, nil
	default:
		return LookupAbort, fmt.Errorf("unknown lookup policy %q", s)
	}
}

func (p LookupPolicy) String() string {
	if p == LookupSkip {
		return "skip"
	}
	return "abort"
}

// RosterLine is one online member in a roster reply.
type RosterLine struct {
	ID     EntityID
	Name   string
	Online time.Duration
}

// Roster lists every tracked member with their display name and time online.
// community is where the query was made and must be the tracked one.
// Names are resolved after the store lock is released.
func (t *Tracker) Roster(ctx context.Context, dir Directory, community *Community) ([]RosterLine, error) {
	if community == nil {
		return nil, ErrNoContext
	}

	current, entries := t.epoch()
	if current == nil || current.ID != community.ID {
		return nil, ErrNotMonitored
	}
	now := t.now()

	lines := make([]RosterLine, 0, len(entries))
	for _, e := range entries {
		name, err := dir.DisplayName(ctx, community.ID, e.ID)
		if err != nil {
			if t.policy == LookupSkip {
				t.log.Debug("skipping unresolved member", zap.String("id", string(e.ID)), zap.Error(err))
				continue
			}
			return nil, &LookupError{ID: e.ID, Err: err}
		}
		lines = append(lines, RosterLine{ID: e.ID, Name: name, Online: now.Sub(e.Since)})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Online != lines[j].Online {
			return lines[i].Online > lines[j].Online
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

// FormatDuration renders d as whole hours, minutes and seconds, e.g. "1h 1m 1s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", secs/3600, (secs/60)%60, secs%60)
}

func RenderRoster(lines []RosterLine) string {
	if len(lines) == 0 {
		return "nobody is online right now"
	}
	var b strings.Builder
	b.WriteString("the following users are online:\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "%s has been connected for %s\n", l.Name, FormatDuration(l.Online))
	}
	return b.String()
}
