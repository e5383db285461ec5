package flow

import (
	"fmt"

	"sessionbot/internal/remote"
)

const restartHint = "\n\nUse /generate to start again."

const (
	textChooseBackend  = "🔧 Choose the client library and the account type:"
	textBackendMissing = "❌ This library is not available right now. Please choose another one."
	textAskAppID       = "🔑 Send your API_ID (a number from https://my.telegram.org)."
	textAskAppHash     = "🔑 Now send your API_HASH."
	textAskPhone       = "📱 Send the phone number of the account in international format.\n\nExample: +19876543210"
	textAskBotToken    = "🤖 Send the bot token from @BotFather.\n\nExample: 12345:ABCdef"
	textSendingCode    = "⏳ Requesting a login code..."
	textAskCode        = "📨 Telegram sent you a login code. Send it here.\n\nIf the code is 12345, you may send it as 1 2 3 4 5."
	textAskPassword    = "🔐 This account has two-step verification. Send your password."
	textNoFlow         = "Use /generate to create a string session."
	textNothingToDo    = "Nothing to cancel."
	textSessionHeader  = "✅ String session generated"
	textSessionWarning = "⚠️ Do not share it: anyone holding this string controls the account."
	textSentToSelf     = "📌 A copy was saved to your Saved Messages."

	textMalformedAppID     = "❌ API_ID must be a number." + restartHint
	textInvalidCredentials = "❌ API_ID or API_HASH was rejected by Telegram." + restartHint
	textInvalidIdentifier  = "❌ Telegram rejected this phone number or token." + restartHint
	textCodeInvalid        = "❌ The code is wrong. Check for typos when copying it." + restartHint
	textCodeExpired        = "❌ The code has expired. A new one will be sent on the next attempt." + restartHint
	textPasswordInvalid    = "❌ Wrong two-step verification password." + restartHint
	textTokenInvalid       = "❌ The bot token is invalid or revoked." + restartHint
	textFailure            = "❌ Something went wrong while talking to Telegram." + restartHint
	textTimeout            = "⌛ Time is up, the request was cancelled." + restartHint
	textCancelled          = "🚫 Cancelled. Nothing was saved."
)

func formatSession(backend remote.Backend, kind remote.AccountKind, token string) string {
	return fmt.Sprintf("%s (%s, %s account):\n\n%s\n\n%s", textSessionHeader, backend, kind, token, textSessionWarning)
}
