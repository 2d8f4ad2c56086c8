package router

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"whos-online/internal/bot"
	"whos-online/internal/config"
	"whos-online/internal/presence"
)

// CommunityID is the community all router devices belong to.
const CommunityID = "lan"

// Source polls the router and emits a snapshot on the first successful poll
// and presence changes afterwards. Devices are keyed by lowercased host name.
// Devices that vanish from the listing count as offline.
type Source struct {
	client     *client
	interval   time.Duration
	clearDelay time.Duration
	targets    map[string]struct{}
	name       string
	log        *zap.Logger

	mu      sync.Mutex
	names   map[presence.EntityID]string
	state   map[presence.EntityID]presence.Status
	missing map[presence.EntityID]time.Time

	lastErr time.Time
}

func New(cfg config.RouterConfig, log *zap.Logger) *Source {
	targets := make(map[string]struct{}, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	name := cfg.BaseURL
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		name = u.Host
	}
	return &Source{
		client:     newClient(cfg.BaseURL, cfg.Username, cfg.Password, cfg.Lang),
		interval:   cfg.PollInterval,
		clearDelay: cfg.ClearDelay,
		targets:    targets,
		name:       name,
		log:        log,
		names:      make(map[presence.EntityID]string),
		missing:    make(map[presence.EntityID]time.Time),
	}
}

func (s *Source) Name() string { return "router" }

func (s *Source) Run(ctx context.Context, emit func(bot.Event)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		devs, err := s.client.devices(ctx)
		if err != nil {
			s.logError(err)
		} else {
			s.observe(time.Now(), devs, emit)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// observe turns one device listing into events. A device that stops being
// online is reported offline only after it has been missing for clearDelay.
func (s *Source) observe(now time.Time, devs []device, emit func(bot.Event)) {
	current := make(map[presence.EntityID]presence.Status)
	s.mu.Lock()
	for _, d := range devs {
		key := strings.ToLower(d.HostName)
		if len(s.targets) > 0 {
			if _, ok := s.targets[key]; !ok {
				continue
			}
		}
		id := presence.EntityID(key)
		s.names[id] = d.HostName
		if presence.IsOnline(current[id]) {
			continue
		}
		current[id] = deviceStatus(d.Status)
	}

	if s.state == nil {
		s.state = current
		s.mu.Unlock()

		members := make([]presence.MemberStatus, 0, len(current))
		for _, id := range sortedIDs(current) {
			members = append(members, presence.MemberStatus{ID: id, Status: current[id]})
		}
		emit(bot.ConnectionEstablished{
			Community: &presence.Community{ID: CommunityID, Name: s.name},
			Members:   members,
		})
		return
	}

	var events []bot.Event
	for _, id := range sortedIDs(current) {
		if !presence.IsOnline(current[id]) {
			continue
		}
		delete(s.missing, id)
		if !presence.IsOnline(s.state[id]) {
			s.state[id] = current[id]
			events = append(events, bot.PresenceChanged{CommunityID: CommunityID, ID: id, Status: current[id]})
		}
	}
	for _, id := range sortedIDs(s.state) {
		if !presence.IsOnline(s.state[id]) || presence.IsOnline(current[id]) {
			continue
		}
		since, ok := s.missing[id]
		if !ok {
			since = now
			s.missing[id] = now
		}
		if now.Sub(since) < s.clearDelay {
			continue
		}
		delete(s.missing, id)
		s.state[id] = presence.StatusOffline
		events = append(events, bot.PresenceChanged{CommunityID: CommunityID, ID: id, Status: presence.StatusOffline})
	}
	s.mu.Unlock()

	for _, evt := range events {
		emit(evt)
	}
}

// DisplayName returns the host name the router last reported for id.
func (s *Source) DisplayName(_ context.Context, communityID string, id presence.EntityID) (string, error) {
	if communityID != CommunityID {
		return "", fmt.Errorf("unknown community %q", communityID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.names[id]
	if !ok {
		return "", fmt.Errorf("unknown device %q", id)
	}
	return name, nil
}

func (s *Source) logError(err error) {
	if time.Since(s.lastErr) < time.Minute {
		return
	}
	s.lastErr = time.Now()
	s.log.Warn("presence check failed", zap.Error(err))
}

func deviceStatus(status string) presence.Status {
	if strings.EqualFold(strings.TrimSpace(status), "online") {
		return presence.StatusActive
	}
	return presence.StatusOffline
}

func sortedIDs(m map[presence.EntityID]presence.Status) []presence.EntityID {
	ids := make([]presence.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
