package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/render"
)

// settingsPrompt is the orthogonal await-value state: the next private text
// message from the user becomes the value of this setting.
type settingsPrompt struct {
	pollID      int64
	key         string
	optionIndex int // -1 for poll-level keys
}

func (h *BotHandler) handleSettings(ctx context.Context, cb *tgbotapi.CallbackQuery, c SettingsCallback) {
	switch c.Action {
	case "poll_menu":
		h.answer(cb, "", false)
		h.showPollSettings(ctx, cb, c.PollID)
	case "toggle":
		h.togglePollSetting(ctx, cb, c.PollID, c.Key)
	case "style":
		h.setNamesStyle(ctx, cb, c.PollID, c.Key)
	case "options":
		h.answer(cb, "", false)
		h.showOptionList(ctx, cb, c.PollID)
	case "option":
		h.applyOptionSetting(ctx, cb, c)
	case "prompt":
		h.beginPrompt(cb, c)
	case "exclusions":
		h.answer(cb, "", false)
		h.showExclusions(ctx, cb, c.PollID)
	case "exclude":
		h.togglePollExclusion(ctx, cb, c.PollID, c.UserID)
	case "participants":
		h.answer(cb, "", false)
		h.showParticipants(ctx, cb, c.ChatID)
	case "chat_exclude":
		h.toggleChatExclusion(ctx, cb, c.ChatID, c.UserID)
	}
}

func onOff(v bool) string {
	if v {
		return "✅"
	}
	return "☑️"
}

var styleTitles = map[string]string{
	models.NamesList:     "список",
	models.NamesInline:   "в строку",
	models.NamesNumbered: "нумерованный",
}

func (h *BotHandler) showPollSettings(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64) {
	bundle, err := h.repo.Bundle(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}
	s := bundle.Settings

	target := "не задана"
	if s.TargetSum > 0 {
		target = render.Money(s.TargetSum)
	}

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(onOff(s.AllowMultiple)+" Несколько вариантов", callbackData("settings", "toggle", pollID, "multiple")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(onOff(s.ShowHeatmap)+" Тепловая карта", callbackData("settings", "toggle", pollID, "heatmap")),
			tgbotapi.NewInlineKeyboardButtonData(onOff(s.ShowTextResults)+" Текст итогов", callbackData("settings", "toggle", pollID, "text_results")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(onOff(s.DefaultShowNames)+" Имена", callbackData("settings", "toggle", pollID, "names")),
			tgbotapi.NewInlineKeyboardButtonData(onOff(s.DefaultShowCount)+" Счетчики", callbackData("settings", "toggle", pollID, "count")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Стиль имен: "+styleTitles[s.DefaultNamesStyle], callbackData("settings", "style", pollID, nextStyle(s.DefaultNamesStyle))),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Название", callbackData("settings", "prompt", pollID, "title")),
			tgbotapi.NewInlineKeyboardButtonData("🎯 Цель: "+target, callbackData("settings", "prompt", pollID, "target_sum")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Эмодзи напоминания: "+s.NudgeNegativeEmoji, callbackData("settings", "prompt", pollID, "nudge_emoji")),
		),
	}
	if bundle.Poll.Kind == models.KindNative {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Варианты ответа", callbackData("settings", "options", pollID)),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚫 Исключения", callbackData("settings", "exclusions", pollID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("dash", "polls", bundle.Poll.ChatID, bundle.Poll.Status)),
		),
	)
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.edit(cb, "⚙️ Настройки опроса «"+bundle.Poll.Title+"»", &kb)
}

func nextStyle(style string) string {
	switch style {
	case models.NamesList:
		return models.NamesInline
	case models.NamesInline:
		return models.NamesNumbered
	default:
		return models.NamesList
	}
}

func (h *BotHandler) togglePollSetting(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64, key string) {
	bundle, err := h.repo.Bundle(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}
	s := bundle.Settings

	switch key {
	case "multiple":
		s.AllowMultiple = !s.AllowMultiple
	case "heatmap":
		s.ShowHeatmap = !s.ShowHeatmap
	case "text_results":
		s.ShowTextResults = !s.ShowTextResults
	case "names":
		s.DefaultShowNames = !s.DefaultShowNames
	case "count":
		s.DefaultShowCount = !s.DefaultShowCount
	default:
		h.answer(cb, "", false)
		return
	}

	if err := h.repo.SavePollSettings(ctx, s); err != nil {
		h.log.Error("save poll settings failed", zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	h.answer(cb, "", false)
	h.showPollSettings(ctx, cb, pollID)
	h.refreshIfLive(bundle.Poll)
}

func (h *BotHandler) setNamesStyle(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64, style string) {
	if _, ok := styleTitles[style]; !ok {
		h.answer(cb, "", false)
		return
	}
	bundle, err := h.repo.Bundle(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}
	s := bundle.Settings
	s.DefaultNamesStyle = style
	if err := h.repo.SavePollSettings(ctx, s); err != nil {
		h.log.Error("save poll settings failed", zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	h.answer(cb, "", false)
	h.showPollSettings(ctx, cb, pollID)
	h.refreshIfLive(bundle.Poll)
}

func (h *BotHandler) showOptionList(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64) {
	bundle, err := h.repo.Bundle(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, text := range bundle.Poll.Options {
		ov := bundle.OptionOverride(i)
		label := text
		if ov != nil && ov.IsPriority {
			label = "📌 " + label
		}
		if ov != nil && ov.Emoji != "" {
			label = ov.Emoji + " " + label
		}
		prio := "off"
		if ov == nil || !ov.IsPriority {
			prio = "on"
		}
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(label, callbackData("settings", "prompt", pollID, "rename", i)),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📌", callbackData("settings", "option", pollID, i, "priority", prio)),
				tgbotapi.NewInlineKeyboardButtonData("😀", callbackData("settings", "prompt", pollID, "emoji", i)),
				tgbotapi.NewInlineKeyboardButtonData("💰", callbackData("settings", "prompt", pollID, "amount", i)),
			),
		)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("settings", "poll_menu", pollID)),
	))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.edit(cb, "📝 Варианты ответа.\nНажмите на вариант, чтобы переименовать; 📌 закрепляет сверху, 😀 задает эмодзи, 💰 задает взнос.", &kb)
}

// applyOptionSetting handles settings:option:<poll>:<index>:<key>:<value>.
func (h *BotHandler) applyOptionSetting(ctx context.Context, cb *tgbotapi.CallbackQuery, c SettingsCallback) {
	bundle, err := h.repo.Bundle(ctx, c.PollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}
	if c.OptionIndex < 0 || c.OptionIndex >= len(bundle.Poll.Options) {
		h.answer(cb, "Такого варианта больше нет", true)
		return
	}

	s := models.OptionSettings{PollID: c.PollID, OptionIndex: c.OptionIndex}
	if ov := bundle.OptionOverride(c.OptionIndex); ov != nil {
		s = *ov
	}

	switch c.Key {
	case "priority":
		s.IsPriority = c.Value == "on"
	case "show_contribution":
		s.ShowContribution = c.Value == "on"
	case "names":
		s.ShowNames = triState(c.Value)
	case "count":
		s.ShowCount = triState(c.Value)
	default:
		h.answer(cb, "", false)
		return
	}

	if err := h.repo.SaveOptionSettings(ctx, s); err != nil {
		h.log.Error("save option settings failed", zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	h.answer(cb, "", false)
	h.showOptionList(ctx, cb, c.PollID)
	h.refreshIfLive(bundle.Poll)
}

// triState maps on/off/default to the nullable override representation.
func triState(v string) *bool {
	switch v {
	case "on":
		t := true
		return &t
	case "off":
		f := false
		return &f
	}
	return nil
}

// beginPrompt arms the await-value state and asks for the value.
func (h *BotHandler) beginPrompt(cb *tgbotapi.CallbackQuery, c SettingsCallback) {
	st := h.state(cb.From.ID)
	h.mu.Lock()
	st.prompt = &settingsPrompt{pollID: c.PollID, key: c.Key, optionIndex: c.OptionIndex}
	h.mu.Unlock()

	var ask string
	switch c.Key {
	case "title":
		ask = "Введите новое название опроса:"
	case "target_sum":
		ask = "Введите целевую сумму (число, 0 отключает прогресс):"
	case "nudge_emoji":
		ask = "Пришлите эмодзи для списка не проголосовавших:"
	case "rename":
		ask = "Введите новый текст варианта:"
	case "emoji":
		ask = "Пришлите эмодзи для этого варианта (или «-», чтобы убрать):"
	case "amount":
		ask = "Введите сумму взноса для этого варианта (число, 0 отключает):"
	default:
		h.mu.Lock()
		st.prompt = nil
		h.mu.Unlock()
		h.answer(cb, "", false)
		return
	}
	h.answer(cb, "", false)
	if cb.Message != nil {
		h.send(cb.Message.Chat.ID, ask, nil)
	}
}

// handlePromptInput consumes the armed prompt with the user's text. State
// is preserved on invalid input so the user can retry.
func (h *BotHandler) handlePromptInput(ctx context.Context, msg *tgbotapi.Message, st *userState) {
	h.mu.Lock()
	prompt := st.prompt
	h.mu.Unlock()
	if prompt == nil {
		return
	}

	value := strings.TrimSpace(msg.Text)
	if value == "" {
		h.send(msg.Chat.ID, "Пустое значение, попробуйте еще раз:", nil)
		return
	}

	bundle, err := h.repo.Bundle(ctx, prompt.pollID)
	if err != nil {
		h.clearPrompt(st)
		h.send(msg.Chat.ID, "Опрос удален", nil)
		return
	}

	switch prompt.key {
	case "title":
		err = h.repo.SetPollTitle(ctx, prompt.pollID, value)
	case "target_sum":
		var sum float64
		sum, err = strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil || sum < 0 {
			h.send(msg.Chat.ID, "Нужно неотрицательное число, попробуйте еще раз:", nil)
			return
		}
		s := bundle.Settings
		s.TargetSum = sum
		err = h.repo.SavePollSettings(ctx, s)
	case "nudge_emoji":
		s := bundle.Settings
		s.NudgeNegativeEmoji = value
		err = h.repo.SavePollSettings(ctx, s)
	case "rename":
		if prompt.optionIndex < 0 || prompt.optionIndex >= len(bundle.Poll.Options) {
			h.clearPrompt(st)
			h.send(msg.Chat.ID, "Такого варианта больше нет", nil)
			return
		}
		err = h.repo.RenameOption(ctx, prompt.pollID, prompt.optionIndex, value)
	case "emoji":
		s := models.OptionSettings{PollID: prompt.pollID, OptionIndex: prompt.optionIndex}
		if ov := bundle.OptionOverride(prompt.optionIndex); ov != nil {
			s = *ov
		}
		if value == "-" {
			s.Emoji = ""
		} else {
			s.Emoji = value
		}
		err = h.repo.SaveOptionSettings(ctx, s)
	case "amount":
		var sum float64
		sum, err = strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil || sum < 0 {
			h.send(msg.Chat.ID, "Нужно неотрицательное число, попробуйте еще раз:", nil)
			return
		}
		s := models.OptionSettings{PollID: prompt.pollID, OptionIndex: prompt.optionIndex}
		if ov := bundle.OptionOverride(prompt.optionIndex); ov != nil {
			s = *ov
		}
		s.ContributionAmount = sum
		s.ShowContribution = sum > 0
		err = h.repo.SaveOptionSettings(ctx, s)
	default:
		h.clearPrompt(st)
		return
	}

	if err != nil {
		h.log.Error("apply setting failed",
			zap.Int64("poll_id", prompt.pollID),
			zap.String("key", prompt.key),
			zap.Error(err))
		h.send(msg.Chat.ID, "❌ Внутренняя ошибка, значение не сохранено", nil)
		return
	}

	h.clearPrompt(st)
	h.send(msg.Chat.ID, "✅ Сохранено", nil)
	h.refreshIfLive(bundle.Poll)
}

func (h *BotHandler) clearPrompt(st *userState) {
	h.mu.Lock()
	st.prompt = nil
	h.mu.Unlock()
}

// refreshIfLive rewrites the chat artifact after a setting change when the
// poll already has one.
func (h *BotHandler) refreshIfLive(poll models.Poll) {
	if poll.Status == models.StatusDraft || poll.MessageID == 0 {
		return
	}
	pollID := poll.ID
	go h.pub.Refresh(context.Background(), pollID)
}

// Exclusion screens

func (h *BotHandler) showExclusions(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID int64) {
	bundle, err := h.repo.Bundle(ctx, pollID)
	if err != nil {
		h.answer(cb, "Опрос удален", true)
		return
	}
	participants, err := h.repo.Participants(ctx, bundle.Poll.ChatID)
	if err != nil {
		h.log.Error("participants load failed", zap.Error(err))
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range participants {
		mark := "✅"
		if p.Excluded || bundle.Exclusions[p.UserID] {
			mark = "🚫"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s %s", mark, p.DisplayName()),
				callbackData("settings", "exclude", pollID, p.UserID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("settings", "poll_menu", pollID)),
	))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.edit(cb, "🚫 Исключения из этого опроса.\nИсключенные не попадают в напоминания.", &kb)
}

func (h *BotHandler) togglePollExclusion(ctx context.Context, cb *tgbotapi.CallbackQuery, pollID, userID int64) {
	excluded, err := h.repo.TogglePollExclusion(ctx, pollID, userID)
	if err != nil {
		h.log.Error("toggle poll exclusion failed", zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	if excluded {
		h.answer(cb, "Исключен из опроса", false)
	} else {
		h.answer(cb, "Снова участвует", false)
	}
	// An exclusion change alters who is pending, so a live nudge must be
	// rewritten right away.
	if poll, err := h.repo.Poll(ctx, pollID); err == nil && poll.NudgeID != 0 {
		if err := h.pub.RefreshNudge(ctx, pollID); err != nil {
			h.log.Warn("nudge refresh failed", zap.Int64("poll_id", pollID), zap.Error(err))
		}
	}
	h.showExclusions(ctx, cb, pollID)
}

func (h *BotHandler) showParticipants(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64) {
	participants, err := h.repo.Participants(ctx, chatID)
	if err != nil {
		h.log.Error("participants load failed", zap.Error(err))
		return
	}
	if len(participants) == 0 {
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("dash", "group", chatID)),
		))
		h.edit(cb, "Участники пока не замечены. Они появляются, когда пишут в группе, или их можно добавить пересылкой сообщения.", &kb)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range participants {
		mark := "✅"
		if p.Excluded {
			mark = "🚫"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s %s", mark, p.DisplayName()),
				callbackData("settings", "chat_exclude", chatID, p.UserID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData("dash", "group", chatID)),
	))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.edit(cb, "👥 Участники группы.\n🚫 выключает участника из всех напоминаний.", &kb)
}

func (h *BotHandler) toggleChatExclusion(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID, userID int64) {
	excluded, err := h.repo.ToggleParticipantExcluded(ctx, chatID, userID)
	if err != nil {
		h.log.Error("toggle participant exclusion failed", zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	if excluded {
		h.answer(cb, "Участник исключен", false)
	} else {
		h.answer(cb, "Участник снова в списках", false)
	}
	// The chat-level flag affects every active poll of the chat.
	if polls, err := h.repo.PollsByChat(ctx, chatID, models.StatusActive); err == nil {
		for _, p := range polls {
			if p.NudgeID == 0 {
				continue
			}
			if err := h.pub.RefreshNudge(ctx, p.ID); err != nil {
				h.log.Warn("nudge refresh failed", zap.Int64("poll_id", p.ID), zap.Error(err))
			}
		}
	}
	h.showParticipants(ctx, cb, chatID)
}
