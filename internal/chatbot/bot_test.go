package chatbot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/botpanel-dev/bot-panel-backend/internal/sessiongate"
	"github.com/botpanel-dev/bot-panel-backend/internal/tunnel"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID = 1000

type fakeMessenger struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func (f *fakeMessenger) last(t *testing.T) Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func setupBot() (*Bot, *fakeMessenger, *sessiongate.Memory, *tunnel.PublicURL) {
	m := &fakeMessenger{}
	gate := sessiongate.NewMemory()
	url := tunnel.NewPublicURL()
	return New(Config{Messenger: m, Gate: gate, URL: url, AdminID: adminID}), m, gate, url
}

func TestBot_StartAndPanel(t *testing.T) {
	bot, m, _, url := setupBot()
	ctx := context.Background()

	t.Run("before the tunnel is live", func(t *testing.T) {
		require.NoError(t, bot.Handle(ctx, Command{ChatID: 42, UserID: 42, MessageID: 7, Name: "start"}))
		msg := m.last(t)
		assert.Equal(t, msgStarting, msg.Text)
		assert.Equal(t, 7, msg.ReplyTo)
		assert.Nil(t, msg.Button)

		require.NoError(t, bot.Handle(ctx, Command{ChatID: 42, UserID: 42, Name: "panel"}))
		assert.Equal(t, msgStarting, m.last(t).Text)
	})

	url.Publish("https://live.trycloudflare.com")

	t.Run("after the tunnel is live", func(t *testing.T) {
		require.NoError(t, bot.Handle(ctx, Command{ChatID: 42, UserID: 42, Name: "start"}))
		msg := m.last(t)
		require.NotNil(t, msg.Button)
		assert.Equal(t, "https://live.trycloudflare.com", msg.Button.URL)
		assert.True(t, msg.Markdown)

		require.NoError(t, bot.Handle(ctx, Command{ChatID: 42, UserID: 42, Name: "panel"}))
		assert.Contains(t, m.last(t).Text, "https://live.trycloudflare.com")
	})
}

func TestBot_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("caller approves themselves", func(t *testing.T) {
		bot, m, gate, _ := setupBot()
		require.NoError(t, bot.Handle(ctx, Command{ChatID: 42, UserID: 42, Name: "approve"}))

		ok, err := gate.IsApproved(ctx, 42)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, msgApproved, m.last(t).Text)
	})

	t.Run("admin approves another user", func(t *testing.T) {
		bot, m, gate, _ := setupBot()
		require.NoError(t, bot.Handle(ctx, Command{ChatID: adminID, UserID: adminID, Name: "approve", Args: " 42 "}))

		ok, err := gate.IsApproved(ctx, 42)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = gate.IsApproved(ctx, adminID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.Len(t, m.sent, 2)
		assert.Equal(t, int64(42), m.sent[0].ChatID)
		assert.Equal(t, int64(adminID), m.sent[1].ChatID)
	})

	t.Run("non-admin cannot approve others", func(t *testing.T) {
		bot, m, gate, _ := setupBot()
		require.NoError(t, bot.Handle(ctx, Command{ChatID: 43, UserID: 43, Name: "approve", Args: "42"}))

		for _, id := range []int64{42, 43} {
			ok, err := gate.IsApproved(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		assert.Equal(t, msgAdminOnly, m.last(t).Text)
	})

	t.Run("admin with a bad id", func(t *testing.T) {
		bot, m, _, _ := setupBot()
		require.NoError(t, bot.Handle(ctx, Command{ChatID: adminID, UserID: adminID, Name: "approve", Args: "abc"}))
		assert.Equal(t, msgBadApproval, m.last(t).Text)
	})
}

func TestBot_UnknownCommandIgnored(t *testing.T) {
	bot, m, _, _ := setupBot()
	require.NoError(t, bot.Handle(context.Background(), Command{ChatID: 1, UserID: 1, Name: "help"}))
	assert.Empty(t, m.sent)
}

func TestBot_SendOTP(t *testing.T) {
	bot, m, _, _ := setupBot()
	require.NoError(t, bot.SendOTP(context.Background(), 42, "123456"))

	msg := m.last(t)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "`123456`")
	assert.True(t, msg.Markdown)

	m.err = errors.New("blocked by user")
	assert.Error(t, bot.SendOTP(context.Background(), 42, "123456"))
}

func TestBot_AnnouncePanel(t *testing.T) {
	bot, m, _, _ := setupBot()
	bot.AnnouncePanel(context.Background(), "https://live.trycloudflare.com")

	msg := m.last(t)
	assert.Equal(t, int64(adminID), msg.ChatID)
	require.NotNil(t, msg.Button)
	assert.Equal(t, "https://live.trycloudflare.com", msg.Button.URL)
}

func TestToCommand(t *testing.T) {
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "/approve 77",
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 8}},
	}}

	cmd, ok := toCommand(upd)
	require.True(t, ok)
	assert.Equal(t, Command{ChatID: 42, UserID: 42, MessageID: 9, Name: "approve", Args: "77"}, cmd)

	t.Run("plain text is not a command", func(t *testing.T) {
		_, ok := toCommand(tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 1},
			Text: "hello",
		}})
		assert.False(t, ok)
	})

	t.Run("non-message updates are skipped", func(t *testing.T) {
		_, ok := toCommand(tgbotapi.Update{})
		assert.False(t, ok)
	})
}
