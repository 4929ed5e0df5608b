// Package webapp serves the HTTP surface of the bot: the Telegram webhook,
// a liveness endpoint and the bundled web-vote sub-apps. Sub-app manifests
// are loaded once at process start into a read-only map.
package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

// Manifest describes one bundled web app directory.
type Manifest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoadManifests scans the apps directory for subdirectories carrying a
// manifest.json. A missing directory yields an empty map, not an error.
func LoadManifests(dir string) (map[string]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read apps dir: %w", err)
	}

	apps := make(map[string]Manifest)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name(), "manifest.json"))
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse manifest of %s: %w", e.Name(), err)
		}
		if m.ID == "" {
			m.ID = e.Name()
		}
		apps[m.ID] = m
	}
	return apps, nil
}

// Sorted returns the manifests ordered by name for stable keyboards.
func Sorted(apps map[string]Manifest) []Manifest {
	out := make([]Manifest, 0, len(apps))
	for _, m := range apps {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// VoteSink ingests one authenticated web-app vote. The sink commits the
// vote and owns any follow-up artifact refresh.
type VoteSink func(ctx context.Context, pollID int64, voter models.User, response string) error

// NewRouter builds the gin engine. Incoming webhook updates are pushed to
// the updates channel; the HTTP handler only enqueues and acknowledges.
// Web-app votes arrive on the vote route, authenticated by the init-data
// signature, and flow into the sink.
func NewRouter(appsDir string, apps map[string]Manifest, updates chan<- tgbotapi.Update, botToken string, vote VoteSink, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "groupoll bot is alive")
	})

	r.POST("/telegram", func(c *gin.Context) {
		var update tgbotapi.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			log.Warn("bad webhook payload", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"ok": false})
			return
		}
		select {
		case updates <- update:
			c.JSON(http.StatusOK, gin.H{"ok": true})
		default:
			// Queue full: drop rather than block the webhook.
			log.Warn("update queue full, dropping update", zap.Int("update_id", update.UpdateID))
			c.JSON(http.StatusOK, gin.H{"ok": true})
		}
	})

	r.POST("/web_apps/:id/vote", func(c *gin.Context) {
		if vote == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		var req struct {
			PollID   int64  `json:"poll_id"`
			Response string `json:"response"`
			InitData string `json:"init_data"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad payload"})
			return
		}
		voter, err := AuthenticateInitData(req.InitData, botToken)
		if err != nil {
			log.Warn("web app vote rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "not authorized"})
			return
		}
		if err := vote(c.Request.Context(), req.PollID, voter, req.Response); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, models.ErrPollGone):
				status = http.StatusNotFound
			case errors.Is(err, models.ErrPollInactive):
				status = http.StatusConflict
			case errors.Is(err, models.ErrUserInputInvalid):
				status = http.StatusUnprocessableEntity
			default:
				log.Error("web app vote failed", zap.Int64("poll_id", req.PollID), zap.Error(err))
			}
			c.JSON(status, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for id := range apps {
		dir := filepath.Join(appsDir, id)
		r.Static("/web_apps/"+id+"/static", filepath.Join(dir, "static"))
		index := filepath.Join(dir, "static", "index.html")
		r.GET("/web_apps/"+id+"/", func(c *gin.Context) {
			c.File(index)
		})
	}

	return r
}
