// Package chatbot is the panel's chat-side companion: it delivers login
// codes, records approvals and hands out the panel link.
package chatbot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/botpanel-dev/bot-panel-backend/internal/sessiongate"
)

const (
	msgStarting    = "⏳ Panel is starting, please wait..."
	msgApproved    = "✅ Access approved! You can now use the dashboard."
	msgAdminOnly   = "Only the admin can approve other users."
	msgBadApproval = "Usage: /approve [telegram id]"
)

type Button struct {
	Text string
	URL  string
}

type Message struct {
	ChatID   int64
	ReplyTo  int
	Text     string
	Markdown bool
	Button   *Button
}

// Messenger delivers outgoing chat messages.
type Messenger interface {
	Send(ctx context.Context, m Message) error
}

// Command is one incoming "/name args" message.
type Command struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Name      string
	Args      string
}

// URLSource reports the panel address, "" while the tunnel is starting.
type URLSource interface {
	Get() string
}

type Config struct {
	Messenger Messenger
	Gate      sessiongate.Gate
	URL       URLSource
	AdminID   int64
}

type Bot struct {
	messenger Messenger
	gate      sessiongate.Gate
	url       URLSource
	adminID   int64
}

func New(cfg Config) *Bot {
	return &Bot{
		messenger: cfg.Messenger,
		gate:      cfg.Gate,
		url:       cfg.URL,
		adminID:   cfg.AdminID,
	}
}

// Handle answers a command. Unknown commands are ignored.
func (b *Bot) Handle(ctx context.Context, cmd Command) error {
	switch cmd.Name {
	case "start":
		return b.start(ctx, cmd)
	case "approve":
		return b.approve(ctx, cmd)
	case "panel":
		return b.panel(ctx, cmd)
	default:
		return nil
	}
}

func (b *Bot) start(ctx context.Context, cmd Command) error {
	u := b.url.Get()
	if u == "" {
		return b.reply(ctx, cmd, msgStarting)
	}
	return b.messenger.Send(ctx, Message{
		ChatID: cmd.ChatID,
		Text: "🚀 *Bot Panel is online*\n\n" +
			"👇 Open the panel below.\n\n" +
			"🔐 First login: a one-time code will be sent here.",
		Markdown: true,
		Button:   &Button{Text: "🌐 Open Panel", URL: u},
	})
}

// approve marks the caller approved. The admin may name another user id.
func (b *Bot) approve(ctx context.Context, cmd Command) error {
	target := cmd.UserID
	if arg := strings.TrimSpace(cmd.Args); arg != "" {
		if cmd.UserID != b.adminID {
			return b.reply(ctx, cmd, msgAdminOnly)
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return b.reply(ctx, cmd, msgBadApproval)
		}
		target = id
	}

	if err := b.gate.SetApproved(ctx, target); err != nil {
		return fmt.Errorf("approve %d: %w", target, err)
	}
	log.Printf("[chatbot] approved user_id=%d by=%d", target, cmd.UserID)

	if target != cmd.UserID {
		if err := b.messenger.Send(ctx, Message{ChatID: target, Text: msgApproved}); err != nil {
			log.Printf("[chatbot] notify approved user_id=%d error=%v", target, err)
		}
		return b.reply(ctx, cmd, fmt.Sprintf("✅ Approved %d.", target))
	}
	return b.reply(ctx, cmd, msgApproved)
}

func (b *Bot) panel(ctx context.Context, cmd Command) error {
	u := b.url.Get()
	if u == "" {
		return b.reply(ctx, cmd, msgStarting)
	}
	return b.reply(ctx, cmd, "🌐 Panel URL:\n"+u)
}

func (b *Bot) reply(ctx context.Context, cmd Command, text string) error {
	return b.messenger.Send(ctx, Message{ChatID: cmd.ChatID, ReplyTo: cmd.MessageID, Text: text})
}

// SendOTP delivers a login code to the user's private chat.
func (b *Bot) SendOTP(ctx context.Context, userID int64, code string) error {
	return b.messenger.Send(ctx, Message{
		ChatID:   userID,
		Text:     fmt.Sprintf("🛡️ Your login code: `%s`\n❗ Don't share this code.", code),
		Markdown: true,
	})
}

// AnnouncePanel tells the admin the panel is reachable at url.
func (b *Bot) AnnouncePanel(ctx context.Context, url string) {
	err := b.messenger.Send(ctx, Message{
		ChatID:   b.adminID,
		Text:     "🚀 *PANEL LIVE*",
		Markdown: true,
		Button:   &Button{Text: "🌐 Open Panel", URL: url},
	})
	if err != nil {
		log.Printf("[chatbot] announce panel error=%v", err)
	}
}
