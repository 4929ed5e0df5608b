package publisher

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

const buttonsPerRow = 3

// Keyboard builds the inline keyboard of the live artifact. Closed polls
// carry no keyboard; native polls get one vote button per option laid out
// three per row; webapp polls get a single web-launch button.
func Keyboard(p models.Poll, webURL string) *tgbotapi.InlineKeyboardMarkup {
	if p.Status != models.StatusActive {
		return nil
	}

	if p.Kind == models.KindWebApp {
		url := fmt.Sprintf("%s/web_apps/%s/?poll_id=%d", webURL, p.WebAppID, p.ID)
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("🗳 Открыть форму", url),
			),
		)
		return &kb
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, option := range p.Options {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			option,
			fmt.Sprintf("vote:%d:%d", p.ID, i),
		))
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
