// Package bot wires presence sources and chat commands to the roster tracker.
package bot

import (
	"context"

	"whos-online/internal/presence"
)

// Event is delivered by a Source. It is one of ConnectionEstablished,
// PresenceChanged or CommandInvoked.
type Event interface {
	event()
}

// ConnectionEstablished carries the full status listing of the monitored
// community. Community is nil when the connection has no community.
type ConnectionEstablished struct {
	Community *presence.Community
	Members   []presence.MemberStatus
}

type PresenceChanged struct {
	CommunityID string
	ID          presence.EntityID
	Status      presence.Status
}

// CommandInvoked is a chat command addressed to the bot. Reply sends the
// answer back to where the command came from.
type CommandInvoked struct {
	Community *presence.Community
	Name      string
	Prefix    string
	Author    string
	Reply     func(ctx context.Context, text string) error
}

func (ConnectionEstablished) event() {}
func (PresenceChanged) event()       {}
func (CommandInvoked) event()        {}

// Source produces events in delivery order until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(Event)) error
}
