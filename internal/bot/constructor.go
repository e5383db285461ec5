package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"sessionbot/internal/flow"
	"sessionbot/internal/storage"
)

// NewAPI connects to the Bot API with the given token
func NewAPI(token string, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))
	return api, nil
}

// NewBot creates a new Telegram bot. sender must deliver through the same api.
func NewBot(api *tgbotapi.BotAPI, sender flow.Notifier, machine *flow.Machine, registry storage.Registry, gate *Gate, adminIDs []int64, logger *zap.Logger) *Bot {
	admins := make(map[int64]bool)
	for _, id := range adminIDs {
		admins[id] = true
	}

	return &Bot{
		api:        api,
		sender:     sender,
		machine:    machine,
		registry:   registry,
		gate:       gate,
		admins:     admins,
		dispatcher: NewDispatcher(logger),
		logger:     logger,
	}
}

