package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"sessionbot/internal/flow"
	"sessionbot/internal/models"
)

const (
	textOnlyText    = "✍️ Please answer with a text message."
	textPrivateOnly = "🔒 Session strings are only generated in a private chat. Message me directly and send /generate."
)

const helpText = `Available commands:
/generate - Create a string session
/cancel - Abort the current request
/help - Show this message

You will need API_ID and API_HASH from https://my.telegram.org and either the account phone number or a bot token.`

// handleStart shows welcome message and the generate button
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	text := fmt.Sprintf(`Hi %s! 👋

This bot generates string sessions for Telegram client libraries.
Your credentials are only kept in memory while the request runs.

%s`, message.From.FirstName, helpText)

	b.send(ctx, message.Chat.ID, flow.Reply{Text: text, Keyboard: flow.KeyboardMenu})
}

// handleHelp lists the commands
func (b *Bot) handleHelp(ctx context.Context, message *tgbotapi.Message) {
	b.send(ctx, message.Chat.ID, flow.Reply{Text: helpText, Keyboard: flow.KeyboardMenu})
}

// handleStats shows user and outcome counters to admins
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	if !b.admins[message.From.ID] {
		b.reply(ctx, message.Chat.ID, "Unknown command. Use /help to see available commands.")
		return
	}

	users, err := b.registry.CountUsers(ctx)
	if err != nil {
		b.logger.Error("Failed to count users", zap.Error(err))
		b.reply(ctx, message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	stats, err := b.registry.OutcomeStats(ctx)
	if err != nil {
		b.logger.Error("Failed to load outcome stats", zap.Error(err))
		b.reply(ctx, message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(ctx, message.Chat.ID, formatStats(users, b.machine.Active(), stats))
}

// handleBroadcast sends the command argument to every known user
func (b *Bot) handleBroadcast(ctx context.Context, message *tgbotapi.Message) {
	if !b.admins[message.From.ID] {
		b.reply(ctx, message.Chat.ID, "Unknown command. Use /help to see available commands.")
		return
	}

	text := strings.TrimSpace(message.CommandArguments())
	if text == "" {
		b.reply(ctx, message.Chat.ID, "Usage: /broadcast <text>")
		return
	}

	ids, err := b.registry.ListUserIDs(ctx)
	if err != nil {
		b.logger.Error("Failed to list users for broadcast", zap.Error(err))
		b.reply(ctx, message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	started := time.Now()
	sent, failed := 0, 0
	for _, id := range ids {
		if err := b.sender.Send(ctx, id, flow.Reply{Text: text}); err != nil {
			b.logger.Debug("Broadcast delivery failed", zap.Error(err), zap.Int64("user_id", id))
			failed++
			continue
		}
		sent++
	}

	b.logger.Info("Broadcast finished",
		zap.Int("sent", sent),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(started)),
	)
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("📣 Broadcast finished\n\nDelivered: %d\nFailed: %d", sent, failed))
}

func formatStats(users, active int, stats []models.OutcomeStat) string {
	var text strings.Builder
	text.WriteString("📊 Statistics\n\n")
	text.WriteString(fmt.Sprintf("Users: %d\n", users))
	text.WriteString(fmt.Sprintf("Active requests: %d\n", active))

	if len(stats) == 0 {
		text.WriteString("\nNo finished requests yet.")
		return text.String()
	}

	text.WriteString("\nFinished requests:\n")
	for _, s := range stats {
		text.WriteString(fmt.Sprintf("%s: %d\n", s.Outcome, s.Count))
	}
	return text.String()
}

func userFrom(u *tgbotapi.User) models.User {
	return models.User{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		FirstSeen: time.Now(),
	}
}
