package chatbot

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const pollTimeout = 30

// Telegram is the Messenger backed by the Bot API with long polling.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	log.Printf("[chatbot] authorized as @%s", api.Self.UserName)
	return &Telegram{api: api}, nil
}

// Send ignores ctx; the Bot API client has no cancellation hook.
func (t *Telegram) Send(_ context.Context, m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	if m.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if m.ReplyTo != 0 {
		msg.ReplyToMessageID = m.ReplyTo
	}
	if m.Button != nil {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(m.Button.Text, m.Button.URL)),
		)
	}

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Listen feeds incoming commands to handle until ctx is cancelled.
func (t *Telegram) Listen(ctx context.Context, handle func(context.Context, Command) error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			cmd, ok := toCommand(upd)
			if !ok {
				continue
			}
			if err := handle(ctx, cmd); err != nil {
				log.Printf("[chatbot] command=%s user_id=%d error=%v", cmd.Name, cmd.UserID, err)
			}
		}
	}
}

func toCommand(upd tgbotapi.Update) (Command, bool) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || !m.IsCommand() {
		return Command{}, false
	}
	return Command{
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		MessageID: m.MessageID,
		Name:      m.Command(),
		Args:      m.CommandArguments(),
	}, true
}
