package telegram

import (
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Kind classifies a Telegram API failure for the policy in the callers:
// transient errors are retried with backoff, permanent ones are handled
// locally (migrated chats update the chat_id, missing messages clear the
// stale ref, "not modified" is success).
type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
	KindNotModified
	KindNotFound
	KindFloodWait
	KindMigrated
	KindForbidden
)

// Classify maps an error returned by the Bot API to its kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNotModified
	}
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		// Network-level failures are worth a retry.
		return KindTransient
	}

	msg := strings.ToLower(tgErr.Message)
	switch {
	case strings.Contains(msg, "message is not modified"):
		return KindNotModified
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message can't be edited"):
		return KindNotFound
	case tgErr.Code == 429 || tgErr.ResponseParameters.RetryAfter > 0:
		return KindFloodWait
	case tgErr.ResponseParameters.MigrateToChatID != 0:
		return KindMigrated
	case tgErr.Code == 403:
		return KindForbidden
	case tgErr.Code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// RetryAfter returns the rate-limit hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.ResponseParameters.RetryAfter > 0 {
		return time.Duration(tgErr.ResponseParameters.RetryAfter) * time.Second, true
	}
	return 0, false
}

// MigratedTo returns the supergroup chat ID a group migrated to, if the
// error carries one.
func MigratedTo(err error) (int64, bool) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.ResponseParameters.MigrateToChatID != 0 {
		return tgErr.ResponseParameters.MigrateToChatID, true
	}
	return 0, false
}
