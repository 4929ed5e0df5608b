package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/config"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/handlers"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/publisher"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/repository"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/service"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/telegram"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/webapp"
)

const webAppsDir = "web_apps"

func main() {
	// Running without a .env file is the normal production case.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("configuration error", zap.Error(err))
	}

	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	driver, dsn := cfg.DatabaseDriver()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("ping database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := repository.CreateSchema(ctx, db, driver); err != nil {
		log.Fatal("create schema", zap.Error(err))
	}
	if err := repository.MigrateParticipants(ctx, db, driver); err != nil {
		log.Fatal("migrate participants", zap.Error(err))
	}
	log.Info("database ready", zap.String("driver", driver))

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal("bot authorization", zap.Error(err))
	}
	log.Info("bot authorized", zap.String("username", botAPI.Self.UserName))

	api := telegram.NewBot(botAPI, log)
	repo := repository.New(db, driver)
	svc := service.New(repo, api, log)
	pub := publisher.New(api, repo, svc, cfg.WebURL, log)

	apps, err := webapp.LoadManifests(webAppsDir)
	if err != nil {
		log.Fatal("load web apps", zap.Error(err))
	}
	log.Info("web apps loaded", zap.Int("count", len(apps)))

	handler := handlers.NewBotHandler(api, repo, svc, pub, apps, cfg.OwnerID, log)

	updates := make(chan tgbotapi.Update, 128)

	// Web-app votes arrive over HTTP, authenticated by the init-data
	// signature; they take the same vote path as button votes.
	webVote := func(ctx context.Context, pollID int64, voter models.User, response string) error {
		_, _, err := svc.Vote(ctx, pollID, voter, nil, &response)
		if err != nil {
			return err
		}
		go func() {
			bg := context.Background()
			pub.Refresh(bg, pollID)
			poll, err := repo.Poll(bg, pollID)
			if err != nil || poll.NudgeID == 0 {
				return
			}
			if err := pub.RefreshNudge(bg, pollID); err != nil {
				log.Warn("nudge refresh failed", zap.Int64("poll_id", pollID), zap.Error(err))
			}
		}()
		return nil
	}

	router := webapp.NewRouter(webAppsDir, apps, updates, cfg.BotToken, webVote, log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	// Update delivery: webhook when configured, long polling otherwise.
	if cfg.WebhookURL != "" {
		if err := api.SetWebhook(cfg.WebhookURL + "/telegram"); err != nil {
			log.Fatal("set webhook", zap.Error(err))
		}
		log.Info("webhook registered", zap.String("url", cfg.WebhookURL+"/telegram"))
	} else {
		go pollUpdates(ctx, botAPI, updates, log)
		log.Info("long polling started")
	}

	// Worker pool: updates for different users/polls process in parallel,
	// serialization happens further down (per-user FSM lock, per-poll gate).
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case update := <-updates:
					handler.HandleUpdate(ctx, update)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	botAPI.StopReceivingUpdates()
	wg.Wait()
	log.Info("bye")
}

// pollUpdates forwards long-polling updates into the shared channel so the
// worker pool is identical for both delivery modes.
func pollUpdates(ctx context.Context, bot *tgbotapi.BotAPI, updates chan<- tgbotapi.Update, log *zap.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}

	for update := range bot.GetUpdatesChan(u) {
		select {
		case updates <- update:
		case <-ctx.Done():
			return
		}
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		os.Exit(1)
	}
	return log
}
