package flow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sessionbot/internal/remote"
	"sessionbot/internal/session"
)

// Exporter turns an authenticated client into a string session and delivers
// it. Deliveries are best effort and independent of each other.
type Exporter struct {
	notifier Notifier
	logger   *zap.Logger
}

// NewExporter creates an exporter that replies through notifier
func NewExporter(notifier Notifier, logger *zap.Logger) *Exporter {
	return &Exporter{notifier: notifier, logger: logger}
}

// Export fetches the string session from the live client and delivers it to
// the account's Saved Messages (user accounts only) and to the requesting
// user's private chat. When neither delivery works the session is posted to
// the chat the flow runs in. Only a failed export returns an error.
func (e *Exporter) Export(ctx context.Context, sess *session.Session) (string, error) {
	if sess.Client == nil {
		return "", fmt.Errorf("export session: %w", remote.ErrNotAuthenticated)
	}

	token, err := sess.Client.ExportSession(ctx)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}

	text := formatSession(sess.Backend, sess.Kind, token)
	log := e.logger.With(
		zap.Int64("user_id", sess.UserID),
		zap.String("flow_id", sess.FlowID),
		zap.String("backend", string(sess.Backend)),
	)

	savedToSelf := false
	if sess.Kind == remote.KindUser {
		if err := sess.Client.SendToSelf(ctx, text); err != nil {
			log.Warn("Failed to deliver session to Saved Messages", zap.Error(err))
		} else {
			savedToSelf = true
		}
	}

	direct := text
	if savedToSelf {
		direct += "\n\n" + textSentToSelf
	}
	err = e.notifier.Send(ctx, sess.UserID, Reply{Text: direct})
	if err == nil {
		log.Info("Session delivered", zap.Bool("saved_to_self", savedToSelf))
		return token, nil
	}
	log.Warn("Failed to deliver session to private chat", zap.Error(err))

	if savedToSelf {
		return token, nil
	}

	if err := e.notifier.Send(ctx, sess.ChatID, Reply{Text: text}); err != nil {
		log.Error("Failed to deliver session to any destination", zap.Error(err))
	}
	return token, nil
}
