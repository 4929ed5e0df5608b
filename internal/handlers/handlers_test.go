package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/publisher"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/render"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/repository"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/service"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/webapp"
)

type stubAPI struct {
	mu sync.Mutex

	nextMsgID int
	texts     []string
	answers   []string
	documents []string
	admins    map[int64][]int64
}

func (f *stubAPI) SendText(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup, replyTo int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	f.texts = append(f.texts, text)
	return f.nextMsgID, nil
}

func (f *stubAPI) SendPhoto(chatID int64, photo []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	return f.nextMsgID, "photo", nil
}

func (f *stubAPI) EditText(chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *stubAPI) EditMedia(chatID int64, messageID int, photo []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) (string, error) {
	return "photo", nil
}

func (f *stubAPI) SendDocument(chatID int64, name string, data []byte, caption string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	f.documents = append(f.documents, string(data))
	return f.nextMsgID, nil
}

func (f *stubAPI) DeleteMessage(chatID int64, messageID int) error { return nil }

func (f *stubAPI) AnswerCallback(id, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *stubAPI) ChatAdministrators(chatID int64) ([]tgbotapi.ChatMember, error) {
	var out []tgbotapi.ChatMember
	for _, id := range f.admins[chatID] {
		out = append(out, tgbotapi.ChatMember{User: &tgbotapi.User{ID: id}})
	}
	return out, nil
}

func (f *stubAPI) SetWebhook(url string) error { return nil }

func (f *stubAPI) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

func (f *stubAPI) sentContaining(sub string) bool {
	return f.lastTextContaining(sub) != ""
}

func (f *stubAPI) lastTextContaining(sub string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.texts) - 1; i >= 0; i-- {
		if strings.Contains(f.texts[i], sub) {
			return f.texts[i]
		}
	}
	return ""
}

func newTestHandler(t *testing.T, ownerID int64) (*BotHandler, *repository.Repository, *stubAPI) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := repository.CreateSchema(context.Background(), db, repository.DialectSQLite); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	repo := repository.New(db, repository.DialectSQLite)
	api := &stubAPI{admins: map[int64][]int64{}}
	svc := service.New(repo, api, zap.NewNop())
	pub := publisher.New(api, repo, svc, "https://bot.example", zap.NewNop())
	apps := map[string]webapp.Manifest{"freeform": {ID: "freeform", Name: "Свободный ответ"}}
	h := NewBotHandler(api, repo, svc, pub, apps, ownerID, zap.NewNop())
	return h, repo, api
}

func privateMsg(userID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Админ"},
		Chat: &tgbotapi.Chat{ID: userID, Type: "private"},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func callback(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: userID, FirstName: "Админ"},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 77,
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		},
	}
}

func TestWizardNativeFlow(t *testing.T) {
	h, repo, _ := newTestHandler(t, 0)
	ctx := context.Background()

	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "dash:wizard_start:-100")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:kind:native")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:multiple:yes")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Куда едем?")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Красный, Синий")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Зеленый")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "/done")})

	polls, err := repo.PollsByChat(ctx, -100, models.StatusDraft)
	if err != nil {
		t.Fatalf("polls: %v", err)
	}
	if len(polls) != 1 {
		t.Fatalf("got %d drafts, want 1", len(polls))
	}
	p := polls[0]
	if p.Title != "Куда едем?" {
		t.Errorf("title = %q", p.Title)
	}
	want := []string{"Красный", "Синий", "Зеленый"}
	if len(p.Options) != 3 || p.Options[0] != want[0] || p.Options[2] != want[2] {
		t.Errorf("options = %v, want %v", p.Options, want)
	}

	b, err := repo.Bundle(ctx, p.ID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if !b.Settings.AllowMultiple {
		t.Error("multiple choice answer lost")
	}

	// The FSM is back to idle: further text is ignored.
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "лишний текст")})
	polls, _ = repo.PollsByChat(ctx, -100, "")
	if len(polls) != 1 {
		t.Errorf("stray text created a poll: %d polls", len(polls))
	}
}

func TestWizardRequiresTwoOptions(t *testing.T) {
	h, repo, api := newTestHandler(t, 0)
	ctx := context.Background()

	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "dash:wizard_start:-100")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:kind:native")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:multiple:no")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Опрос")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Единственный")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "/done")})

	if polls, _ := repo.PollsByChat(ctx, -100, ""); len(polls) != 0 {
		t.Fatalf("draft created with one option: %d polls", len(polls))
	}
	if !api.sentContaining("минимум 2 варианта") {
		t.Error("no hint about the option minimum")
	}

	// The state survived, one more option finishes the flow.
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Второй")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "/done")})
	if polls, _ := repo.PollsByChat(ctx, -100, ""); len(polls) != 1 {
		t.Error("draft not created after adding the second option")
	}
}

func TestWizardCancel(t *testing.T) {
	h, repo, _ := newTestHandler(t, 0)
	ctx := context.Background()

	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "dash:wizard_start:-100")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:cancel")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Куда едем?")})

	if polls, _ := repo.PollsByChat(ctx, -100, ""); len(polls) != 0 {
		t.Errorf("cancelled wizard still created a poll")
	}
}

func TestWizardWebAppFlow(t *testing.T) {
	h, repo, _ := newTestHandler(t, 0)
	ctx := context.Background()

	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "dash:wizard_start:-100")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:kind:webapp")})
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "wizard:webapp:freeform")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "Сбор на подарок")})

	polls, err := repo.PollsByChat(ctx, -100, models.StatusDraft)
	if err != nil || len(polls) != 1 {
		t.Fatalf("polls = %v, %v", polls, err)
	}
	if polls[0].Kind != models.KindWebApp || polls[0].WebAppID != "freeform" {
		t.Errorf("webapp fields wrong: %+v", polls[0])
	}
}

func TestVoteCallback(t *testing.T) {
	h, repo, api := newTestHandler(t, 0)
	ctx := context.Background()

	pollID, err := repo.CreatePollDraft(ctx, -100, "Куда едем?", []string{"Красный", "Синий"}, models.KindNative, "", false)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if err := repo.SetPollStatus(ctx, pollID, models.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	cb := callback(9, "vote:"+itoa(pollID)+":0")
	cb.Message.Chat = &tgbotapi.Chat{ID: -100, Type: "supergroup"}
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: cb})

	if got := api.lastAnswer(); got != "✅ Голос учтен" {
		t.Errorf("answer = %q", got)
	}
	b, err := repo.Bundle(ctx, pollID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if len(b.Responses) != 1 || b.Responses[0].UserID != 9 {
		t.Errorf("vote not stored: %+v", b.Responses)
	}

	// The display refresh is asynchronous; wait for it so the test does
	// not tear the database down under it.
	waitFor(t, func() bool {
		p, err := repo.Poll(context.Background(), pollID)
		return err == nil && p.MessageID != 0
	})
}

func TestVoteCallbackInactivePoll(t *testing.T) {
	h, repo, api := newTestHandler(t, 0)
	ctx := context.Background()

	pollID, err := repo.CreatePollDraft(ctx, -100, "Куда едем?", []string{"Красный", "Синий"}, models.KindNative, "", false)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}

	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(9, "vote:"+itoa(pollID)+":0")})
	if got := api.lastAnswer(); got != "Опрос не активен" {
		t.Errorf("answer = %q", got)
	}
}

func TestExportImportCommands(t *testing.T) {
	h, repo, api := newTestHandler(t, 5)
	ctx := context.Background()

	if _, err := repo.CreatePollDraft(ctx, -100, "Куда едем?", []string{"Красный", "Синий"}, models.KindNative, "", false); err != nil {
		t.Fatalf("draft: %v", err)
	}

	// Non-owner: silent no-op.
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(6, "/export_json")})
	if len(api.documents) != 0 {
		t.Fatal("non-owner received an export")
	}

	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "/export_json")})
	if len(api.documents) != 1 {
		t.Fatal("owner did not receive the export")
	}
	var dump map[string]json.RawMessage
	if err := json.Unmarshal([]byte(api.documents[0]), &dump); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}

	// Import replaces everything.
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, "/import_json")})
	h.HandleUpdate(ctx, tgbotapi.Update{Message: privateMsg(5, api.documents[0])})
	if !api.sentContaining("Импорт завершен") {
		t.Error("no import confirmation")
	}
	if polls, _ := repo.PollsByChat(ctx, -100, ""); len(polls) != 1 {
		t.Errorf("imported store has %d polls, want 1", len(polls))
	}
}

func TestExclusionRefreshesNudge(t *testing.T) {
	h, repo, api := newTestHandler(t, 0)
	ctx := context.Background()

	pollID, err := repo.CreatePollDraft(ctx, -100, "Куда едем?", []string{"Красный", "Синий"}, models.KindNative, "", false)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if err := repo.SetPollStatus(ctx, pollID, models.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	for _, p := range []models.Participant{
		{ChatID: -100, UserID: 101, FirstName: "Вася"},
		{ChatID: -100, UserID: 102, FirstName: "Петя"},
	} {
		if err := repo.UpsertParticipant(ctx, p); err != nil {
			t.Fatalf("participant: %v", err)
		}
	}

	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "results:nudge:"+itoa(pollID))})
	nudge := api.lastTextContaining("Ждем вашего голоса")
	if !strings.Contains(nudge, "Вася") || !strings.Contains(nudge, "Петя") {
		t.Fatalf("nudge does not list pending voters: %q", nudge)
	}

	// Excluding a participant from the poll rewrites the nudge right away.
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "settings:exclude:"+itoa(pollID)+":102")})
	nudge = api.lastTextContaining("Ждем вашего голоса")
	if !strings.Contains(nudge, "Вася") || strings.Contains(nudge, "Петя") {
		t.Errorf("poll exclusion did not drop the user from the nudge: %q", nudge)
	}

	// The chat-level flag empties the pending list: the nudge celebrates
	// and its ref is forgotten.
	h.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(5, "settings:chat_exclude:-100:101")})
	if !api.sentContaining(render.AllVotedText) {
		t.Error("chat exclusion did not finalize the nudge")
	}
	poll, err := repo.Poll(ctx, pollID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if poll.NudgeID != 0 {
		t.Errorf("nudge ref not cleared: %d", poll.NudgeID)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
