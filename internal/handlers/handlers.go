// Package handlers routes incoming Telegram updates to the wizard FSM,
// the vote engine, the dashboard and the owner tools.
package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/publisher"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/repository"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/service"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/telegram"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/webapp"
)

type BotHandler struct {
	api     telegram.API
	repo    *repository.Repository
	svc     *service.Service
	pub     *publisher.Publisher
	apps    map[string]webapp.Manifest
	ownerID int64
	log     *zap.Logger

	// mu guards states; state is consumed and mutated without platform
	// calls in flight, responses go out after the critical section.
	mu     sync.Mutex
	states map[int64]*userState
}

type userState struct {
	wizard      *wizardState
	prompt      *settingsPrompt
	forwardUser *models.User
	awaitImport bool
}

func NewBotHandler(api telegram.API, repo *repository.Repository, svc *service.Service, pub *publisher.Publisher, apps map[string]webapp.Manifest, ownerID int64, log *zap.Logger) *BotHandler {
	return &BotHandler{
		api:     api,
		repo:    repo,
		svc:     svc,
		pub:     pub,
		apps:    apps,
		ownerID: ownerID,
		log:     log,
		states:  make(map[int64]*userState),
	}
}

func (h *BotHandler) state(userID int64) *userState {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.states[userID]
	if !ok {
		st = &userState{}
		h.states[userID] = st
	}
	return st
}

func (h *BotHandler) clearState(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states, userID)
}

// HandleUpdate processes one update as one logical task.
func (h *BotHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in update handler", zap.Any("panic", r))
		}
	}()

	if update.Message != nil {
		h.handleMessage(ctx, update.Message)
	}
	if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

// recordSighting keeps the users, chats and participants tables current
// for every update, the background TypeHandler of the dispatcher.
func (h *BotHandler) recordSighting(ctx context.Context, from *tgbotapi.User, chat *tgbotapi.Chat) {
	if from == nil || chat == nil {
		return
	}
	user := models.User{ID: from.ID, FirstName: from.FirstName, LastName: from.LastName, Username: from.UserName}
	if err := h.repo.UpsertUser(ctx, user); err != nil {
		h.log.Warn("upsert user failed", zap.Error(err))
	}
	if err := h.repo.UpsertChat(ctx, models.Chat{ID: chat.ID, Title: chat.Title, Kind: chat.Type}); err != nil {
		h.log.Warn("upsert chat failed", zap.Error(err))
	}
	if chat.Type != "private" {
		if err := h.repo.UpsertParticipant(ctx, models.Participant{
			ChatID:    chat.ID,
			UserID:    from.ID,
			FirstName: from.FirstName,
			LastName:  from.LastName,
			Username:  from.UserName,
		}); err != nil {
			h.log.Warn("upsert participant failed", zap.Error(err))
		}
	}
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	h.recordSighting(ctx, msg.From, msg.Chat)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			h.handleStart(ctx, msg)
		case "help":
			h.handleHelp(msg)
		case "done":
			h.wizardDone(ctx, msg)
		case "export_json":
			h.handleExport(ctx, msg)
		case "import_json":
			h.handleImportRequest(msg)
		}
		return
	}

	if msg.Chat.IsPrivate() && msg.ForwardFrom != nil {
		h.handleForward(ctx, msg)
		return
	}

	if !msg.Chat.IsPrivate() {
		return
	}

	// Private text: route by the user's transient state.
	st := h.state(msg.From.ID)
	h.mu.Lock()
	prompt := st.prompt
	awaitImport := st.awaitImport
	hasWizard := st.wizard != nil
	h.mu.Unlock()

	switch {
	case prompt != nil:
		h.handlePromptInput(ctx, msg, st)
	case awaitImport:
		h.handleImportPayload(ctx, msg, st)
	case hasWizard:
		h.wizardText(ctx, msg, st)
	}
}

func (h *BotHandler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsPrivate() {
		h.send(msg.Chat.ID, "Привет! Создавайте опросы для этой группы в личном чате со мной: /start", nil)
		return
	}
	h.showGroups(ctx, msg.From.ID, msg.Chat.ID, 0)
}

func (h *BotHandler) handleHelp(msg *tgbotapi.Message) {
	text := `📖 Помощь

Я создаю настраиваемые опросы для групп.

1. Добавьте меня в группу
2. Напишите мне /start в личном чате
3. Выберите группу и создайте опрос
4. Запустите опрос — участники голосуют кнопками

📋 Команды:
/start - Панель управления
/done - Завершить список вариантов
/help - Помощь

Перешлите мне сообщение участника, чтобы добавить его в список группы.`
	h.send(msg.Chat.ID, text, nil)
}

// handleForward starts the add-participant-by-forward flow: the original
// author of the forwarded message becomes a participant of a chat the
// admin picks next.
func (h *BotHandler) handleForward(ctx context.Context, msg *tgbotapi.Message) {
	origin := msg.ForwardFrom
	user := models.User{ID: origin.ID, FirstName: origin.FirstName, LastName: origin.LastName, Username: origin.UserName}
	if err := h.repo.UpsertUser(ctx, user); err != nil {
		h.log.Warn("upsert forwarded user failed", zap.Error(err))
	}

	st := h.state(msg.From.ID)
	h.mu.Lock()
	st.forwardUser = &user
	h.mu.Unlock()

	groups, err := h.repo.Groups(ctx)
	if err != nil || len(groups) == 0 {
		h.send(msg.Chat.ID, "Я пока не знаю ни одной группы.", nil)
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(g.Title, callbackData("forward", "chat", g.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.send(msg.Chat.ID, "В какую группу добавить участника "+user.DisplayName()+"?", &kb)
}

func (h *BotHandler) finishForward(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64) {
	st := h.state(cb.From.ID)
	h.mu.Lock()
	user := st.forwardUser
	st.forwardUser = nil
	h.mu.Unlock()

	if user == nil {
		h.answer(cb, "Сначала перешлите сообщение участника", true)
		return
	}
	err := h.repo.UpsertParticipant(ctx, models.Participant{
		ChatID:    chatID,
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  user.Username,
	})
	if err != nil {
		h.log.Error("add participant by forward failed", zap.Error(err))
		h.answer(cb, "❌ Внутренняя ошибка", true)
		return
	}
	h.answer(cb, "✅ Участник добавлен", false)
	h.edit(cb, "✅ "+user.DisplayName()+" добавлен в список группы.", nil)
}

// Owner tools

func (h *BotHandler) isOwner(userID int64) bool {
	return h.ownerID != 0 && userID == h.ownerID
}

func (h *BotHandler) handleExport(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isOwner(msg.From.ID) {
		return // silent no-op for non-owners
	}
	raw, err := h.repo.ExportAll(ctx)
	if err != nil {
		h.log.Error("export failed", zap.Error(err))
		h.send(msg.Chat.ID, "❌ Внутренняя ошибка", nil)
		return
	}
	if _, err := h.api.SendDocument(msg.Chat.ID, "poll_export.json", raw, "Полный экспорт данных"); err != nil {
		h.log.Error("send export failed", zap.Error(err))
	}
}

func (h *BotHandler) handleImportRequest(msg *tgbotapi.Message) {
	if !h.isOwner(msg.From.ID) {
		return
	}
	st := h.state(msg.From.ID)
	h.mu.Lock()
	st.awaitImport = true
	h.mu.Unlock()
	h.send(msg.Chat.ID, "Пришлите JSON экспорта одним сообщением. Все текущие данные будут заменены.", nil)
}

func (h *BotHandler) handleImportPayload(ctx context.Context, msg *tgbotapi.Message, st *userState) {
	h.mu.Lock()
	st.awaitImport = false
	h.mu.Unlock()

	if !h.isOwner(msg.From.ID) {
		return
	}
	if err := h.repo.ImportAll(ctx, []byte(msg.Text)); err != nil {
		if errors.Is(err, models.ErrUserInputInvalid) {
			h.send(msg.Chat.ID, "❌ Неверный формат JSON", nil)
			return
		}
		h.log.Error("import failed", zap.Error(err))
		h.send(msg.Chat.ID, "❌ Импорт не удался, база не изменена", nil)
		return
	}
	h.send(msg.Chat.ID, "✅ Импорт завершен", nil)
}

// Callbacks

func (h *BotHandler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message != nil {
		h.recordSighting(ctx, cb.From, cb.Message.Chat)
	}

	parsed, err := ParseCallback(cb.Data)
	if err != nil {
		h.log.Debug("unknown callback", zap.String("data", cb.Data), zap.Error(err))
	}

	switch c := parsed.(type) {
	case VoteCallback:
		h.handleVote(ctx, cb, c)
	case DashCallback:
		h.handleDash(ctx, cb, c)
	case ResultsCallback:
		h.handleResults(ctx, cb, c)
	case SettingsCallback:
		h.handleSettings(ctx, cb, c)
	case WizardCallback:
		h.wizardCallback(ctx, cb, c)
	case ForwardCallback:
		h.finishForward(ctx, cb, c.ChatID)
	default:
		h.answer(cb, "", false)
	}
}

func (h *BotHandler) handleVote(ctx context.Context, cb *tgbotapi.CallbackQuery, c VoteCallback) {
	voter := models.User{ID: cb.From.ID, FirstName: cb.From.FirstName, LastName: cb.From.LastName, Username: cb.From.UserName}
	index := c.OptionIndex
	outcome, poll, err := h.svc.Vote(ctx, c.PollID, voter, &index, nil)
	if err != nil {
		h.answer(cb, voteErrorText(err), true)
		return
	}

	switch outcome.FinalState {
	case models.VoteStateUnvoted:
		h.answer(cb, "Голос отозван", false)
	default:
		h.answer(cb, "✅ Голос учтен", false)
	}
	if outcome.Changed {
		h.afterVote(poll.ID)
	}
}

// afterVote refreshes the artifact and, when a nudge message already
// exists, the nudge. The vote is committed either way; the display is
// eventually consistent.
func (h *BotHandler) afterVote(pollID int64) {
	go func() {
		ctx := context.Background()
		h.pub.Refresh(ctx, pollID)
		poll, err := h.repo.Poll(ctx, pollID)
		if err != nil {
			return
		}
		if poll.NudgeID != 0 {
			if err := h.pub.RefreshNudge(ctx, pollID); err != nil {
				h.log.Warn("nudge refresh failed", zap.Int64("poll_id", pollID), zap.Error(err))
			}
		}
	}()
}

func voteErrorText(err error) string {
	switch {
	case errors.Is(err, models.ErrPollInactive):
		return "Опрос не активен"
	case errors.Is(err, models.ErrPollGone):
		return "Опрос удален"
	case errors.Is(err, models.ErrOptionOutOfRange), errors.Is(err, models.ErrUserInputInvalid):
		return "Такого варианта больше нет"
	default:
		return "❌ Внутренняя ошибка, голос не записан"
	}
}

// Transport helpers

func (h *BotHandler) send(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if _, err := h.api.SendText(chatID, text, kb, 0); err != nil {
		h.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// edit rewrites the message the callback came from, keeping the dashboard
// a single evolving message.
func (h *BotHandler) edit(cb *tgbotapi.CallbackQuery, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if cb.Message == nil {
		return
	}
	err := h.api.EditText(cb.Message.Chat.ID, cb.Message.MessageID, text, kb)
	if err != nil && telegram.Classify(err) != telegram.KindNotModified {
		h.log.Warn("edit failed", zap.Error(err))
	}
}

func (h *BotHandler) answer(cb *tgbotapi.CallbackQuery, text string, alert bool) {
	if err := h.api.AnswerCallback(cb.ID, text, alert); err != nil {
		h.log.Debug("answer callback failed", zap.Error(err))
	}
}

func trimmedLines(text string) []string {
	var out []string
	for _, chunk := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ',' }) {
		if s := strings.TrimSpace(chunk); s != "" {
			out = append(out, s)
		}
	}
	return out
}
