package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// MemberLookup returns a user's membership status in the gate channel
type MemberLookup func(ctx context.Context, userID int64) (string, error)

// Gate admits only members of a channel. A nil Gate admits everyone.
type Gate struct {
	channel string
	lookup  MemberLookup
	logger  *zap.Logger
}

// NewGate creates a gate for channel, given as @username or numeric chat id.
// It returns nil when channel is empty.
func NewGate(api *tgbotapi.BotAPI, channel string, logger *zap.Logger) *Gate {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil
	}

	cfg := tgbotapi.ChatConfigWithUser{}
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		cfg.ChatID = id
	} else {
		channel = "@" + strings.TrimPrefix(channel, "@")
		cfg.SuperGroupUsername = channel
	}

	lookup := func(ctx context.Context, userID int64) (string, error) {
		c := cfg
		c.UserID = userID
		member, err := api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: c})
		if err != nil {
			return "", err
		}
		return member.Status, nil
	}

	return NewGateWithLookup(channel, lookup, logger)
}

// NewGateWithLookup creates a gate backed by an arbitrary membership lookup
func NewGateWithLookup(channel string, lookup MemberLookup, logger *zap.Logger) *Gate {
	return &Gate{channel: channel, lookup: lookup, logger: logger}
}

// Allow reports whether userID may use the bot. Lookup errors admit the user.
func (g *Gate) Allow(ctx context.Context, userID int64) bool {
	if g == nil || g.lookup == nil {
		return true
	}

	status, err := g.lookup(ctx, userID)
	if err != nil {
		g.logger.Warn("Membership check failed, letting user through",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("channel", g.channel),
		)
		return true
	}

	switch status {
	case "left", "kicked":
		return false
	default:
		return true
	}
}

// Channel returns the channel users must join
func (g *Gate) Channel() string {
	if g == nil {
		return ""
	}
	return g.channel
}
