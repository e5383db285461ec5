package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sessionbot/internal/flow"
	"sessionbot/internal/remote"
)

// Sender delivers flow replies through the Bot API
type Sender struct {
	api      *tgbotapi.BotAPI
	backends []remote.Backend
}

// NewSender creates a sender offering the given backends on the choice keyboard
func NewSender(api *tgbotapi.BotAPI, backends []remote.Backend) *Sender {
	return &Sender{api: api, backends: backends}
}

// Send implements flow.Notifier
func (s *Sender) Send(_ context.Context, chatID int64, reply flow.Reply) error {
	if s.api == nil {
		return nil // For testing
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	msg.DisableWebPagePreview = true
	if markup, ok := keyboardMarkup(reply.Keyboard, s.backends); ok {
		msg.ReplyMarkup = markup
	}

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// keyboardMarkup builds the inline keyboard for k
func keyboardMarkup(k flow.Keyboard, backends []remote.Backend) (tgbotapi.InlineKeyboardMarkup, bool) {
	switch k {
	case flow.KeyboardBackends:
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, b := range backends {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("👤 "+string(b)+" user", backendCallback(b, remote.KindUser)),
				tgbotapi.NewInlineKeyboardButtonData("🤖 "+string(b)+" bot", backendCallback(b, remote.KindBot)),
			))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚫 Cancel", callbackCancel),
		))
		return tgbotapi.NewInlineKeyboardMarkup(rows...), true
	case flow.KeyboardCancel:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🚫 Cancel", callbackCancel),
			),
		), true
	case flow.KeyboardMenu:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔑 Generate session", callbackGenerate),
			),
		), true
	default:
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
}

func backendCallback(b remote.Backend, k remote.AccountKind) string {
	return callbackBackend + string(b) + ":" + string(k)
}

// parseBackendCallback parses backend:<library>:<kind>
func parseBackendCallback(data string) (backendChoice, error) {
	rest, ok := strings.CutPrefix(data, callbackBackend)
	if !ok {
		return backendChoice{}, fmt.Errorf("not a backend callback: %q", data)
	}
	name, kindName, ok := strings.Cut(rest, ":")
	if !ok {
		return backendChoice{}, fmt.Errorf("malformed backend callback: %q", data)
	}

	backend, err := remote.ParseBackend(name)
	if err != nil {
		return backendChoice{}, err
	}
	kind, err := remote.ParseAccountKind(kindName)
	if err != nil {
		return backendChoice{}, err
	}
	return backendChoice{Backend: backend, Kind: kind}, nil
}
