package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"whos-online/internal/metrics"
	"whos-online/internal/presence"
)

type command struct {
	help string
	run  func(ctx context.Context, cmd CommandInvoked) (string, error)
}

// Bot applies source events to a tracker and answers commands.
type Bot struct {
	tracker  *presence.Tracker
	dir      presence.Directory
	metrics  *metrics.Metrics
	log      *zap.Logger
	commands map[string]command
}

func New(tracker *presence.Tracker, dir presence.Directory, m *metrics.Metrics, log *zap.Logger) *Bot {
	b := &Bot{
		tracker: tracker,
		dir:     dir,
		metrics: m,
		log:     log,
	}
	ping := command{help: "replies Pong!", run: b.ping}
	b.commands = map[string]command{
		"ping":       ping,
		"add":        ping,
		"whosonline": {help: "lists who is online and for how long", run: b.whosOnline},
		"help":       {help: "shows this list", run: b.help},
	}
	return b
}

// Run starts every source and blocks until they all return.
func (b *Bot) Run(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			b.log.Info("source started", zap.String("source", src.Name()))
			err := src.Run(ctx, func(evt Event) { b.dispatch(ctx, g, evt) })
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", src.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// dispatch applies roster events in delivery order. Commands are answered on
// their own goroutine.
func (b *Bot) dispatch(ctx context.Context, g *errgroup.Group, evt Event) {
	if cmd, ok := evt.(CommandInvoked); ok {
		g.Go(func() error {
			b.handleCommand(ctx, cmd)
			return nil
		})
		return
	}
	b.Handle(ctx, evt)
}

// Handle processes evt synchronously.
func (b *Bot) Handle(ctx context.Context, evt Event) {
	switch e := evt.(type) {
	case ConnectionEstablished:
		b.handleConnection(e)
	case PresenceChanged:
		b.handlePresence(e)
	case CommandInvoked:
		b.handleCommand(ctx, e)
	default:
		b.log.Warn("unhandled event", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func (b *Bot) handleConnection(e ConnectionEstablished) {
	b.tracker.LoadSnapshot(e.Community, e.Members)
	b.metrics.SnapshotLoaded()
	b.metrics.SetRosterSize(b.tracker.Len())
}

func (b *Bot) handlePresence(e PresenceChanged) {
	current := b.tracker.Community()
	if current == nil || current.ID != e.CommunityID {
		return
	}
	tr := b.tracker.Apply(e.ID, e.Status)
	if tr == presence.TransitionNone {
		return
	}
	b.log.Debug("presence changed",
		zap.String("id", string(e.ID)),
		zap.String("status", string(e.Status)),
		zap.Stringer("transition", tr))
	b.metrics.Transition(tr.String())
	b.metrics.SetRosterSize(b.tracker.Len())
}

func (b *Bot) handleCommand(ctx context.Context, e CommandInvoked) {
	name := strings.ToLower(e.Name)
	cmd, ok := b.commands[name]
	if !ok {
		b.log.Info("unknown command", zap.String("command", e.Name), zap.String("author", e.Author))
		b.reply(ctx, e, b.helpText(e.Prefix))
		return
	}

	b.log.Info("command received", zap.String("command", name), zap.String("author", e.Author))
	b.metrics.CommandInvoked(name)

	text, err := cmd.run(ctx, e)
	if err != nil {
		b.log.Warn("command failed", zap.String("command", name), zap.Error(err))
		text = fmt.Sprintf("%s: %v", name, err)
	} else {
		b.log.Info("command processed", zap.String("command", name))
	}
	b.reply(ctx, e, text)
}

func (b *Bot) reply(ctx context.Context, e CommandInvoked, text string) {
	if e.Reply == nil {
		return
	}
	if err := e.Reply(ctx, text); err != nil {
		b.log.Warn("reply failed", zap.String("command", e.Name), zap.Error(err))
	}
}

func (b *Bot) ping(context.Context, CommandInvoked) (string, error) {
	return "Pong!", nil
}

func (b *Bot) whosOnline(ctx context.Context, e CommandInvoked) (string, error) {
	lines, err := b.tracker.Roster(ctx, b.dir, e.Community)
	if err != nil {
		return "", err
	}
	return presence.RenderRoster(lines), nil
}

func (b *Bot) help(_ context.Context, e CommandInvoked) (string, error) {
	return b.helpText(e.Prefix), nil
}

func (b *Bot) helpText(prefix string) string {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "%s%s - %s\n", prefix, name, b.commands[name].help)
	}
	return sb.String()
}
