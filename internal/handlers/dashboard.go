package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/render"
)

// callbackData joins a prefix and parameters into callback data.
func callbackData(parts ...any) string {
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = fmt.Sprint(p)
	}
	return strings.Join(tokens, ":")
}

// showGroups renders the top dashboard screen: the groups where the user
// is an administrator. editMsgID 0 sends a new message instead of editing.
func (h *BotHandler) showGroups(ctx context.Context, userID, chatID int64, editMsgID int) {
	groups, err := h.svc.ChatsWhereAdmin(ctx, userID)
	if err != nil {
		h.log.Error("admin groups lookup failed", zap.Error(err))
		h.send(chatID, "❌ Внутренняя ошибка", nil)
		return
	}
	if len(groups) == 0 {
		h.send(chatID, "Я не нашел групп, где вы администратор. Добавьте меня в группу и напишите в ней любое сообщение.", nil)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(g.Title, callbackData("dash", "group", g.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	text := "📊 Ваши группы:"

	if editMsgID != 0 {
		if err := h.api.EditText(chatID, editMsgID, text, &kb); err != nil {
			h.log.Warn("dashboard edit failed", zap.Error(err))
		}
		return
	}
	h.send(chatID, text, &kb)
}

func (h *BotHandler) handleDash(ctx context.Context, cb *tgbotapi.CallbackQuery, c DashCallback) {
	switch c.Action {
	case "groups":
		h.answer(cb, "", false)
		if cb.Message != nil {
			h.showGroups(ctx, cb.From.ID, cb.Message.Chat.ID, cb.Message.MessageID)
		}
	case "group":
		h.answer(cb, "", false)
		h.showGroupMenu(ctx, cb, c.ChatID)
	case "polls":
		h.answer(cb, "", false)
		h.showPollList(ctx, cb, c.ChatID, c.Status)
	case "wizard_start":
		h.startWizard(cb, c.ChatID)
	case "start_poll":
		h.startPoll(ctx, cb, c.PollID)
	case "delete_poll":
		h.deletePoll(ctx, cb, c.PollID)
	}
}

func (h *BotHandler) showGroupMenu(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64) {
	groups, err := h.repo.Groups(ctx)
	if err != nil {
		h.log.Error("groups load failed", zap.Error(err))
		return
	}
	title := fmt.Sprintf("группа %d", chatID)
	for _, g := range groups {
		if g.ID == chatID {
			title = g.Title
			break
		}
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Новый опрос", callbackData("dash", "wizard_start", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Черновики", callbackData("dash", "polls", chatID, models.StatusDraft)),
			tgbotapi.NewInlineKeyboardButtonData("▶️ Активные", callbackData("dash", "polls", chatID, models.StatusActive)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏁 Завершенные", callbackData("dash", "polls", chatID, models.StatusClosed)),
			tgbotapi.NewInlineKeyboardButtonData("👥 Участники", callbackData("settings", "participants", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ К группам", "dash:groups"),
		),
	)
	h.edit(cb, "📊 "+title, &kb)
}

var statusTitles = map[string]string{
	models.StatusDraft:  "Черновики",
	models.StatusActive: "Активные опросы",
	models.StatusClosed: "Завершенные опросы",
}

func (h *BotHandler) showPollList(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64, status string) {
	polls, err := h.repo.PollsByChat(ctx, chatID, status)
	if err != nil {
		h.log.Error("poll list load failed", zap.Error(err))
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range polls {
		switch status {
		case models.StatusDraft:
			rows = append(rows,
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("📊 "+p.Title, callbackData("settings", "poll_menu", p.ID)),
				),
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("▶️ Запустить", callbackData("dash", "start_poll", p.ID)),
					tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", callbackData("dash", "delete_poll", p.ID)),
				),
			)
		default:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📊 "+p.Title, callbackData("results", "show", p.ID)),
			))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("dash", "group", chatID)),
	))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)

	text := statusTitles[status]
	if len(polls) == 0 {
		text += "\n\nПока пусто."
	}
	h.edit(cb, text, &kb)
}

func (h *BotHandler) startPoll(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64) {
	if err := h.pub.Start(ctx, pollID); err != nil {
		if msg, ok := userFacing(err); ok {
			h.answer(cb, msg, true)
			return
		}
		h.log.Error("poll start failed", zap.Int64("poll_id", pollID), zap.Error(err))
		h.answer(cb, "❌ Не удалось опубликовать опрос", true)
		return
	}
	h.answer(cb, "✅ Опрос запущен", false)

	poll, err := h.repo.Poll(ctx, pollID)
	if err == nil && cb.Message != nil {
		h.showPollList(ctx, cb, poll.ChatID, models.StatusDraft)
	}
}

func (h *BotHandler) deletePoll(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64) {
	poll, err := h.repo.Poll(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос уже удален", false)
		return
	}

	// Best effort cleanup of the chat artifacts before the rows go away.
	if poll.MessageID != 0 {
		if err := h.api.DeleteMessage(poll.ChatID, poll.MessageID); err != nil {
			h.log.Debug("delete artifact failed", zap.Error(err))
		}
	}
	if poll.NudgeID != 0 {
		if err := h.api.DeleteMessage(poll.ChatID, poll.NudgeID); err != nil {
			h.log.Debug("delete nudge failed", zap.Error(err))
		}
	}

	if err := h.repo.DeletePoll(ctx, pollID); err != nil {
		h.log.Error("poll delete failed", zap.Int64("poll_id", pollID), zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	h.pub.Forget(pollID)
	h.answer(cb, "🗑 Опрос удален", false)
	h.showPollList(ctx, cb, poll.ChatID, poll.Status)
}

func (h *BotHandler) handleResults(ctx context.Context, cb *tgbotapi.CallbackQuery, c ResultsCallback) {
	switch c.Action {
	case "show":
		h.answer(cb, "", false)
		h.showResults(ctx, cb, c.PollID)
	case "nudge":
		if err := h.pub.RefreshNudge(ctx, c.PollID); err != nil {
			h.log.Error("nudge failed", zap.Int64("poll_id", c.PollID), zap.Error(err))
			h.answer(cb, "❌ Не удалось отправить напоминание", true)
			return
		}
		h.answer(cb, "📢 Напоминание обновлено", false)
	case "remove_nudge":
		if err := h.pub.RemoveNudge(ctx, c.PollID); err != nil {
			h.log.Error("nudge removal failed", zap.Int64("poll_id", c.PollID), zap.Error(err))
			h.answer(cb, "❌ Внутренняя ошибка", true)
			return
		}
		h.answer(cb, "Напоминание убрано", false)
	case "close":
		if err := h.pub.Close(ctx, c.PollID); err != nil {
			h.log.Error("poll close failed", zap.Int64("poll_id", c.PollID), zap.Error(err))
			h.answer(cb, "❌ Внутренняя ошибка", true)
			return
		}
		h.answer(cb, "🏁 Опрос завершен", false)
		h.showResults(ctx, cb, c.PollID)
	case "reopen":
		if err := h.pub.Reopen(ctx, c.PollID); err != nil {
			h.log.Error("poll reopen failed", zap.Int64("poll_id", c.PollID), zap.Error(err))
			h.answer(cb, "❌ Внутренняя ошибка", true)
			return
		}
		h.answer(cb, "▶️ Опрос снова открыт", false)
		h.showResults(ctx, cb, c.PollID)
	case "bottom":
		if err := h.pub.MoveToBottom(ctx, c.PollID); err != nil {
			h.log.Error("move to bottom failed", zap.Int64("poll_id", c.PollID), zap.Error(err))
			h.answer(cb, "❌ Внутренняя ошибка", true)
			return
		}
		h.answer(cb, "⬇️ Опрос переотправлен вниз", false)
	}
}

// showResults renders the results control screen for one poll in the
// admin's private chat, with the current caption as a preview.
func (h *BotHandler) showResults(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64) {
	bundle, err := h.repo.Bundle(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}
	poll := bundle.Poll

	var rows [][]tgbotapi.InlineKeyboardButton
	switch poll.Status {
	case models.StatusActive:
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📢 Напомнить", callbackData("results", "nudge", pollID)),
				tgbotapi.NewInlineKeyboardButtonData("🔕 Убрать", callbackData("results", "remove_nudge", pollID)),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⬇️ Вниз чата", callbackData("results", "bottom", pollID)),
				tgbotapi.NewInlineKeyboardButtonData("🏁 Завершить", callbackData("results", "close", pollID)),
			),
		)
	case models.StatusClosed:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Открыть снова", callbackData("results", "reopen", pollID)),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Настройки", callbackData("settings", "poll_menu", pollID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("dash", "polls", poll.ChatID, poll.Status)),
		),
	)
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.edit(cb, render.Caption(bundle), &kb)
}

// userFacing unwraps validation errors meant for the user verbatim.
func userFacing(err error) (string, bool) {
	if errors.Is(err, models.ErrUserInputInvalid) {
		return err.Error(), true
	}
	return "", false
}
