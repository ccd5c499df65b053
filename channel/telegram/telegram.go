// Package telegram implements parley.Sender for outbound Telegram delivery
// via the Bot API. Targets are numeric chat IDs; mark-seen is a no-op (the
// Bot API has no read receipts).
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nevindra/parley"
)

// botAPI is the slice of tgbotapi.BotAPI the sender needs; narrowed for
// tests.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers messages through a Telegram bot.
type Sender struct {
	bot    botAPI
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// New creates a Sender from a bot token.
func New(token string, opts ...Option) (*Sender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, &parley.ErrChannel{Channel: "telegram", Message: "bot init: " + err.Error(), Fatal: true}
	}
	return newSender(bot, opts...), nil
}

func newSender(bot botAPI, opts ...Option) *Sender {
	s := &Sender{bot: bot, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SendText delivers one message to a chat. quoteID, when non-empty and
// numeric, renders the message as a reply.
func (s *Sender) SendText(ctx context.Context, target, text, quoteID string) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if quoteID != "" {
		if replyTo, err := strconv.Atoi(quoteID); err == nil {
			msg.ReplyToMessageID = replyTo
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.bot.Send(msg); err != nil {
		return &parley.ErrChannel{Channel: "telegram", Message: "send: " + err.Error()}
	}
	return nil
}

// SendTyping emits a typing chat action. Best-effort.
func (s *Sender) SendTyping(ctx context.Context, target string) {
	chatID, err := parseChatID(target)
	if err != nil {
		s.logger.Debug("telegram: typing skipped", "target", target, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		s.logger.Debug("telegram: typing failed", "target", target, "error", err)
	}
}

// MarkSeen is a no-op: the Bot API has no read-receipt call.
func (s *Sender) MarkSeen(ctx context.Context, target, messageID string) {}

func parseChatID(target string) (int64, error) {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return 0, &parley.ErrChannel{
			Channel: "telegram",
			Message: fmt.Sprintf("invalid chat id %q", target),
		}
	}
	return chatID, nil
}

// Compile-time interface check.
var _ parley.Sender = (*Sender)(nil)
