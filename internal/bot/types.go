package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"sessionbot/internal/flow"
	"sessionbot/internal/remote"
	"sessionbot/internal/storage"
)

// Bot represents the Telegram bot wrapper
type Bot struct {
	api        *tgbotapi.BotAPI // nil in tests
	sender     flow.Notifier
	machine    *flow.Machine
	registry   storage.Registry
	gate       *Gate
	admins     map[int64]bool
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// Callback data prefixes used by inline keyboards
const (
	callbackGenerate = "generate"
	callbackCancel   = "cancel"
	callbackBackend  = "backend:"
)

// backendChoice is a parsed backend:<library>:<kind> callback
type backendChoice struct {
	Backend remote.Backend
	Kind    remote.AccountKind
}
