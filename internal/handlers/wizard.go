package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/webapp"
)

// Wizard states. One authoring flow per user, in memory: it is authoring
// state, not voting state, and may be lost on restart.
const (
	wizChooseKind     = "choose_kind"
	wizChooseMultiple = "choose_multiple"
	wizChooseWebApp   = "choose_webapp"
	wizAwaitTitle     = "await_title"
	wizAwaitOptions   = "await_options"
)

type wizardState struct {
	step     string
	chatID   int64
	kind     string
	multiple bool
	webAppID string
	title    string
	options  []string
}

// startWizard enters choose_kind for a target chat.
func (h *BotHandler) startWizard(cb *tgbotapi.CallbackQuery, chatID int64) {
	st := h.state(cb.From.ID)
	h.mu.Lock()
	st.wizard = &wizardState{step: wizChooseKind, chatID: chatID}
	st.prompt = nil
	h.mu.Unlock()

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗳 Обычный опрос", "wizard:kind:native"),
			tgbotapi.NewInlineKeyboardButtonData("📱 Веб-форма", "wizard:kind:webapp"),
		),
		cancelRow(),
	)
	h.answer(cb, "", false)
	h.edit(cb, "Какой опрос создаем?", &kb)
}

func (h *BotHandler) wizardCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, c WizardCallback) {
	st := h.state(cb.From.ID)
	h.mu.Lock()
	w := st.wizard
	h.mu.Unlock()

	if c.Action == "cancel" {
		h.clearState(cb.From.ID)
		h.answer(cb, "Создание отменено", false)
		if cb.Message != nil {
			// Drop the transient prompt message to keep the chat clean.
			if err := h.api.DeleteMessage(cb.Message.Chat.ID, cb.Message.MessageID); err != nil {
				h.log.Debug("delete wizard prompt failed", zap.Error(err))
			}
		}
		return
	}

	if w == nil {
		h.answer(cb, "Создание опроса уже завершено", false)
		return
	}

	switch {
	case c.Action == "kind" && w.step == wizChooseKind:
		h.wizardKind(cb, st, w, c.Value)
	case c.Action == "multiple" && w.step == wizChooseMultiple:
		h.mu.Lock()
		w.multiple = c.Value == "yes"
		w.step = wizAwaitTitle
		h.mu.Unlock()
		h.answer(cb, "", false)
		h.edit(cb, "Введите название опроса:", nil)
	case c.Action == "webapp" && w.step == wizChooseWebApp:
		if _, ok := h.apps[c.Value]; !ok {
			h.answer(cb, "Такой формы больше нет", true)
			return
		}
		h.mu.Lock()
		w.webAppID = c.Value
		w.step = wizAwaitTitle
		h.mu.Unlock()
		h.answer(cb, "", false)
		h.edit(cb, "Введите название опроса:", nil)
	default:
		h.answer(cb, "", false)
	}
}

func (h *BotHandler) wizardKind(cb *tgbotapi.CallbackQuery, st *userState, w *wizardState, value string) {
	switch value {
	case models.KindNative:
		h.mu.Lock()
		w.kind = models.KindNative
		w.step = wizChooseMultiple
		h.mu.Unlock()
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Один вариант", "wizard:multiple:no"),
				tgbotapi.NewInlineKeyboardButtonData("Несколько", "wizard:multiple:yes"),
			),
			cancelRow(),
		)
		h.answer(cb, "", false)
		h.edit(cb, "Сколько вариантов может выбрать участник?", &kb)
	case models.KindWebApp:
		sorted := webapp.Sorted(h.apps)
		if len(sorted) == 0 {
			h.answer(cb, "Нет доступных веб-форм", true)
			return
		}
		h.mu.Lock()
		w.kind = models.KindWebApp
		w.step = wizChooseWebApp
		h.mu.Unlock()
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, m := range sorted {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(m.Name, "wizard:webapp:"+m.ID),
			))
		}
		rows = append(rows, cancelRow())
		kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
		h.answer(cb, "", false)
		h.edit(cb, "Выберите форму:", &kb)
	default:
		h.answer(cb, "", false)
	}
}

// wizardText consumes a private text message while a wizard is active.
func (h *BotHandler) wizardText(ctx context.Context, msg *tgbotapi.Message, st *userState) {
	h.mu.Lock()
	w := st.wizard
	h.mu.Unlock()
	if w == nil {
		return
	}

	switch w.step {
	case wizAwaitTitle:
		title := strings.TrimSpace(msg.Text)
		if title == "" {
			h.send(msg.Chat.ID, "Название не может быть пустым, попробуйте еще раз:", nil)
			return
		}
		h.mu.Lock()
		w.title = title
		h.mu.Unlock()
		if w.kind == models.KindWebApp {
			h.wizardFinish(ctx, msg.From.ID, msg.Chat.ID, w)
			return
		}
		h.mu.Lock()
		w.step = wizAwaitOptions
		h.mu.Unlock()
		h.send(msg.Chat.ID, "Присылайте варианты ответа (каждый отдельным сообщением или списком через запятую). Когда закончите — /done", nil)
	case wizAwaitOptions:
		added := trimmedLines(msg.Text)
		if len(added) == 0 {
			h.send(msg.Chat.ID, "Пустой вариант не добавлен", nil)
			return
		}
		h.mu.Lock()
		w.options = append(w.options, added...)
		n := len(w.options)
		h.mu.Unlock()
		h.send(msg.Chat.ID, fmt.Sprintf("Вариантов: %d. Еще, или /done", n), nil)
	}
}

// wizardDone handles /done: finish the option list and create the draft.
func (h *BotHandler) wizardDone(ctx context.Context, msg *tgbotapi.Message) {
	st := h.state(msg.From.ID)
	h.mu.Lock()
	w := st.wizard
	h.mu.Unlock()

	if w == nil || w.step != wizAwaitOptions {
		h.send(msg.Chat.ID, "Сейчас нечего завершать. Создайте опрос через /start", nil)
		return
	}
	if len(w.options) < 2 {
		h.send(msg.Chat.ID, "Нужно минимум 2 варианта ответа", nil)
		return
	}
	h.wizardFinish(ctx, msg.From.ID, msg.Chat.ID, w)
}

func (h *BotHandler) wizardFinish(ctx context.Context, userID, privateChatID int64, w *wizardState) {
	pollID, err := h.repo.CreatePollDraft(ctx, w.chatID, w.title, w.options, w.kind, w.webAppID, w.multiple)
	if err != nil {
		h.log.Error("create draft failed", zap.Error(err))
		h.send(privateChatID, "❌ Не удалось сохранить опрос", nil)
		return
	}
	h.clearState(userID)
	h.log.Info("draft created",
		zap.Int64("poll_id", pollID),
		zap.Int64("chat_id", w.chatID),
		zap.String("kind", w.kind))

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Запустить", callbackData("dash", "start_poll", pollID)),
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Настройки", callbackData("settings", "poll_menu", pollID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ К группе", callbackData("dash", "group", w.chatID)),
		),
	)
	h.send(privateChatID, "✅ Черновик опроса «"+w.title+"» создан.", &kb)
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✖️ Отмена", "wizard:cancel"),
	)
}
