// Package telegram answers bot commands from a single Telegram chat.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"whos-online/internal/bot"
	"whos-online/internal/config"
	"whos-online/internal/presence"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Frontend turns /commands in the configured chat into bot commands against
// the community currently being tracked.
type Frontend struct {
	api       *tgbotapi.BotAPI
	send      sender
	chatID    int64
	community func() *presence.Community
	log       *zap.Logger
}

func New(cfg config.TelegramConfig, community func() *presence.Community, log *zap.Logger) (*Frontend, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Frontend{
		api:       api,
		send:      api,
		chatID:    cfg.ChatID,
		community: community,
		log:       log,
	}, nil
}

func (f *Frontend) Name() string { return "telegram" }

func (f *Frontend) Run(ctx context.Context, emit func(bot.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := f.api.GetUpdatesChan(u)
	defer f.api.StopReceivingUpdates()
	f.log.Info("polling updates", zap.Int64("chat", f.chatID), zap.String("bot", f.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if evt, ok := f.command(update); ok {
				emit(evt)
			}
		}
	}
}

func (f *Frontend) command(update tgbotapi.Update) (bot.CommandInvoked, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != f.chatID {
		return bot.CommandInvoked{}, false
	}
	name := msg.Command()
	if name == "" {
		return bot.CommandInvoked{}, false
	}
	author := ""
	if msg.From != nil {
		author = msg.From.UserName
	}
	return bot.CommandInvoked{
		Community: f.community(),
		Name:      name,
		Prefix:    "/",
		Author:    author,
		Reply:     f.reply,
	}, true
}

func (f *Frontend) reply(_ context.Context, text string) error {
	_, err := f.send.Send(tgbotapi.NewMessage(f.chatID, text))
	return err
}
