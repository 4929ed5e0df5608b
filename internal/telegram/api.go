// Package telegram wraps the Bot API behind a narrow interface so that the
// rest of the system treats the platform as an opaque RPC. Tests substitute
// a fake implementation.
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// API is the transport surface the bot uses. Message IDs and photo file
// IDs are platform handles the store keeps in sync with reality.
type API interface {
	SendText(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup, replyTo int) (messageID int, err error)
	SendPhoto(chatID int64, photo []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) (messageID int, photoID string, err error)
	EditText(chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error
	EditMedia(chatID int64, messageID int, photo []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) (photoID string, err error)
	SendDocument(chatID int64, name string, data []byte, caption string) (messageID int, err error)
	DeleteMessage(chatID int64, messageID int) error
	AnswerCallback(callbackID, text string, alert bool) error
	ChatAdministrators(chatID int64) ([]tgbotapi.ChatMember, error)
	SetWebhook(url string) error
}

// Bot implements API over tgbotapi.
type Bot struct {
	api *tgbotapi.BotAPI
	log *zap.Logger
}

func NewBot(api *tgbotapi.BotAPI, log *zap.Logger) *Bot {
	return &Bot{api: api, log: log}
}

func (b *Bot) SendText(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup, replyTo int) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send text to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (b *Bot) SendPhoto(chatID int64, photo []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) (int, string, error) {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "heatmap.png", Bytes: photo})
	msg.Caption = caption
	msg.ParseMode = tgbotapi.ModeMarkdown
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, "", fmt.Errorf("send photo to %d: %w", chatID, err)
	}
	return sent.MessageID, largestPhotoID(sent.Photo), nil
}

func (b *Bot) EditText(chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("edit text %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (b *Bot) EditMedia(chatID int64, messageID int, photo []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) (string, error) {
	media := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{Name: "heatmap.png", Bytes: photo})
	media.Caption = caption
	media.ParseMode = tgbotapi.ModeMarkdown
	msg := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:      chatID,
			MessageID:   messageID,
			ReplyMarkup: kb,
		},
		Media: media,
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("edit media %d/%d: %w", chatID, messageID, err)
	}
	return largestPhotoID(sent.Photo), nil
}

func (b *Bot) SendDocument(chatID int64, name string, data []byte, caption string) (int, error) {
	msg := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	msg.Caption = caption
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send document to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (b *Bot) DeleteMessage(chatID int64, messageID int) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (b *Bot) AnswerCallback(callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	if _, err := b.api.Request(cb); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func (b *Bot) ChatAdministrators(chatID int64) ([]tgbotapi.ChatMember, error) {
	admins, err := b.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("chat administrators of %d: %w", chatID, err)
	}
	return admins, nil
}

func (b *Bot) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func largestPhotoID(sizes []tgbotapi.PhotoSize) string {
	if len(sizes) == 0 {
		return ""
	}
	return sizes[len(sizes)-1].FileID
}
