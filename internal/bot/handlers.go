package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"sessionbot/internal/flow"
)

// HandleUpdate queues an update behind the sender's earlier updates
func (b *Bot) HandleUpdate(update tgbotapi.Update) {
	var userID int64
	switch {
	case update.Message != nil && update.Message.From != nil:
		userID = update.Message.From.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		userID = update.CallbackQuery.From.ID
	default:
		return
	}

	if !b.dispatcher.Submit(userID, func() { b.processUpdate(update) }) {
		b.logger.Warn("Dropped update during shutdown", zap.Int64("user_id", userID))
	}
}

// processUpdate handles one update synchronously
func (b *Bot) processUpdate(update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(update.Message)
	}
	if update.CallbackQuery != nil {
		b.handleCallbackQuery(update.CallbackQuery)
	}
}

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}

	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("user_id", message.From.ID),
			)
			b.reply(context.Background(), message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	ctx := context.Background()
	in := flow.Inbound{
		UserID: message.From.ID,
		ChatID: message.Chat.ID,
		Text:   message.Text,
	}

	if !message.IsCommand() {
		// Flow answers carry secrets; they are only taken in private chats
		if !message.Chat.IsPrivate() {
			return
		}
		if message.Text == "" {
			b.reply(ctx, message.Chat.ID, textOnlyText)
			return
		}
		b.machine.Handle(ctx, in)
		return
	}

	b.registerUser(ctx, message.From)

	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(ctx, message)
	case "generate":
		if !message.Chat.IsPrivate() {
			b.reply(ctx, message.Chat.ID, textPrivateOnly)
			return
		}
		if b.admit(ctx, in) {
			b.machine.Begin(ctx, in)
		}
	case "cancel":
		b.machine.Cancel(ctx, in)
	case "stats":
		b.handleStats(ctx, message)
	case "broadcast":
		b.handleBroadcast(ctx, message)
	default:
		b.reply(ctx, message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery",
				zap.Any("panic", r),
				zap.Int64("user_id", query.From.ID),
			)
		}
	}()

	// Answer the callback query to remove loading state
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Debug("Failed to answer callback query", zap.Error(err))
		}
	}

	ctx := context.Background()
	in := flow.Inbound{UserID: query.From.ID, ChatID: query.From.ID}
	if query.Message != nil && query.Message.Chat != nil {
		in.ChatID = query.Message.Chat.ID
	}

	data := query.Data
	if query.Message != nil && query.Message.Chat != nil && !query.Message.Chat.IsPrivate() && data != callbackCancel {
		b.logger.Debug("Ignoring flow callback outside private chat", zap.Int64("user_id", in.UserID))
		return
	}

	switch {
	case data == callbackGenerate:
		if b.admit(ctx, in) {
			b.machine.Begin(ctx, in)
		}
	case data == callbackCancel:
		b.machine.Cancel(ctx, in)
	case strings.HasPrefix(data, callbackBackend):
		choice, err := parseBackendCallback(data)
		if err != nil {
			b.logger.Warn("Invalid backend callback", zap.Error(err), zap.Int64("user_id", in.UserID))
			return
		}
		if b.admit(ctx, in) {
			b.machine.ChooseBackend(ctx, in, choice.Backend, choice.Kind)
		}
	default:
		b.logger.Debug("Unknown callback data",
			zap.String("callback_data", data),
			zap.Int64("user_id", in.UserID),
		)
	}
}

// admit applies the must-join gate and tells rejected users where to go
func (b *Bot) admit(ctx context.Context, in flow.Inbound) bool {
	if b.gate.Allow(ctx, in.UserID) {
		return true
	}

	b.logger.Info("User blocked by must-join gate",
		zap.Int64("user_id", in.UserID),
		zap.String("channel", b.gate.Channel()),
	)
	b.reply(ctx, in.ChatID, "📢 Please join "+b.gate.Channel()+" first, then send /generate again.")
	return false
}

func (b *Bot) registerUser(ctx context.Context, from *tgbotapi.User) {
	if b.registry == nil {
		return
	}
	err := b.registry.RegisterUser(ctx, userFrom(from))
	if err != nil {
		b.logger.Warn("Failed to register user", zap.Error(err), zap.Int64("user_id", from.ID))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, chatID, flow.Reply{Text: text})
}

func (b *Bot) send(ctx context.Context, chatID int64, r flow.Reply) {
	if err := b.sender.Send(ctx, chatID, r); err != nil {
		b.logger.Warn("Failed to send message", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}
