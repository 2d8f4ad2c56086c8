// Package discord feeds guild presences and chat commands from the Discord
// gateway into the bot.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"whos-online/internal/bot"
	"whos-online/internal/config"
	"whos-online/internal/presence"
)

// maxMessageLen is the Discord limit on message content.
const maxMessageLen = 2000

// Source owns a gateway session. Gateway handlers run synchronously and queue
// events so they reach the bot in delivery order.
type Source struct {
	session *discordgo.Session
	guildID string
	prefix  string
	log     *zap.Logger

	events chan bot.Event
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	target  string
	pending bool
}

func New(cfg config.DiscordConfig, prefix string, log *zap.Logger) (*Source, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.SyncEvents = true
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	s := &Source{
		session: session,
		guildID: cfg.GuildID,
		prefix:  prefix,
		log:     log,
		events:  make(chan bot.Event, 256),
		closed:  make(chan struct{}),
	}
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { s.onReady(r) })
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { s.onGuildCreate(g) })
	session.AddHandler(func(_ *discordgo.Session, p *discordgo.PresenceUpdate) { s.onPresenceUpdate(p) })
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { s.onMessageCreate(m) })
	return s, nil
}

func (s *Source) Name() string { return "discord" }

func (s *Source) Run(ctx context.Context, emit func(bot.Event)) error {
	if err := s.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer func() {
		s.once.Do(func() { close(s.closed) })
		if err := s.session.Close(); err != nil {
			s.log.Warn("close gateway", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.events:
			emit(evt)
		}
	}
}

func (s *Source) push(evt bot.Event) {
	select {
	case s.events <- evt:
	case <-s.closed:
	}
}

func (s *Source) onReady(r *discordgo.Ready) {
	target := s.guildID
	if target == "" && len(r.Guilds) > 0 {
		target = r.Guilds[0].ID
	}

	s.mu.Lock()
	s.target = target
	s.pending = target != ""
	s.mu.Unlock()

	if target == "" {
		s.log.Warn("connected without any guild")
		s.push(bot.ConnectionEstablished{})
		return
	}
	if !containsGuild(r.Guilds, target) {
		s.log.Warn("configured guild not in ready payload", zap.String("guild", target))
	}
	s.log.Info("connected", zap.String("guild", target), zap.Int("guilds", len(r.Guilds)))
}

func (s *Source) onGuildCreate(g *discordgo.GuildCreate) {
	s.mu.Lock()
	take := s.pending && g.ID == s.target
	if take {
		s.pending = false
	}
	s.mu.Unlock()
	if !take {
		return
	}

	s.log.Info("found guild", zap.String("guild", g.ID), zap.String("name", g.Name))
	s.push(bot.ConnectionEstablished{
		Community: &presence.Community{ID: g.ID, Name: g.Name},
		Members:   membersFromPresences(g.Presences),
	})
}

func (s *Source) onPresenceUpdate(p *discordgo.PresenceUpdate) {
	if p.User == nil {
		return
	}
	s.push(bot.PresenceChanged{
		CommunityID: p.GuildID,
		ID:          presence.EntityID(p.User.ID),
		Status:      mapStatus(p.Status),
	})
}

func (s *Source) onMessageCreate(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	name, ok := parseCommand(s.prefix, m.Content)
	if !ok {
		return
	}

	var community *presence.Community
	if m.GuildID != "" {
		community = &presence.Community{ID: m.GuildID, Name: s.guildName(m.GuildID)}
	}
	channelID := m.ChannelID
	ref := m.Reference()
	s.push(bot.CommandInvoked{
		Community: community,
		Name:      name,
		Prefix:    s.prefix,
		Author:    m.Author.Username,
		Reply: func(ctx context.Context, text string) error {
			for _, part := range chunk(text, maxMessageLen) {
				if _, err := s.session.ChannelMessageSendReply(channelID, part, ref, discordgo.WithContext(ctx)); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func (s *Source) guildName(guildID string) string {
	if g, err := s.session.State.Guild(guildID); err == nil {
		return g.Name
	}
	return ""
}

// DisplayName resolves a guild member from the state cache, falling back to
// the REST API.
func (s *Source) DisplayName(ctx context.Context, guildID string, id presence.EntityID) (string, error) {
	member, err := s.session.State.Member(guildID, string(id))
	if err != nil {
		member, err = s.session.GuildMember(guildID, string(id), discordgo.WithContext(ctx))
		if err != nil {
			return "", err
		}
	}
	return displayName(member), nil
}

func mapStatus(status discordgo.Status) presence.Status {
	switch status {
	case discordgo.StatusDoNotDisturb:
		return presence.StatusBusy
	case discordgo.StatusIdle:
		return presence.StatusIdle
	case discordgo.StatusInvisible:
		return presence.StatusInvisible
	case discordgo.StatusOnline:
		return presence.StatusActive
	case discordgo.StatusOffline:
		return presence.StatusOffline
	default:
		return presence.Status(status)
	}
}

func membersFromPresences(presences []*discordgo.Presence) []presence.MemberStatus {
	members := make([]presence.MemberStatus, 0, len(presences))
	for _, p := range presences {
		if p == nil || p.User == nil {
			continue
		}
		members = append(members, presence.MemberStatus{
			ID:     presence.EntityID(p.User.ID),
			Status: mapStatus(p.Status),
		})
	}
	return members
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// parseCommand returns the lowercased first word after prefix.
func parseCommand(prefix, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// chunk splits text on line boundaries into parts of at most limit bytes.
// A single longer line is cut.
func chunk(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if b.Len() > 0 {
				parts = append(parts, b.String())
				b.Reset()
			}
			parts = append(parts, line[:limit])
			line = line[limit:]
		}
		if b.Len()+len(line) > limit {
			parts = append(parts, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

func containsGuild(guilds []*discordgo.Guild, id string) bool {
	for _, g := range guilds {
		if g.ID == id {
			return true
		}
	}
	return false
}
