// Package publisher owns the live chat artifact of every poll: the single
// message (text or photo+caption) that mirrors the vote store. Operations
// for one poll are serialized; refresh requests arriving while one is in
// flight coalesce into at most one trailing refresh.
package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/heatmap"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/render"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/repository"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/service"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/telegram"
)

const transientRetries = 3

type Publisher struct {
	api    telegram.API
	repo   *repository.Repository
	svc    *service.Service
	log    *zap.Logger
	webURL string

	mu    sync.Mutex
	gates map[int64]*gate
}

// gate serializes operations per poll. op guards the actual platform work,
// the busy/queued pair implements latest-wins coalescing for refreshes.
type gate struct {
	op     sync.Mutex
	mu     sync.Mutex
	busy   bool
	queued bool
}

func New(api telegram.API, repo *repository.Repository, svc *service.Service, webURL string, log *zap.Logger) *Publisher {
	return &Publisher{
		api:    api,
		repo:   repo,
		svc:    svc,
		log:    log,
		webURL: webURL,
		gates:  make(map[int64]*gate),
	}
}

func (p *Publisher) gate(pollID int64) *gate {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[pollID]
	if !ok {
		g = &gate{}
		p.gates[pollID] = g
	}
	return g
}

// Forget drops the serialization state of a deleted poll.
func (p *Publisher) Forget(pollID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.gates, pollID)
}

// Start transitions draft → active and produces the first artifact.
func (p *Publisher) Start(ctx context.Context, pollID int64) error {
	g := p.gate(pollID)
	g.op.Lock()
	defer g.op.Unlock()

	poll, err := p.repo.Poll(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.Status == models.StatusActive {
		return nil
	}
	if err := service.StartablePoll(poll); err != nil {
		return err
	}

	if err := p.repo.SetPollStatus(ctx, pollID, models.StatusActive); err != nil {
		return err
	}
	if err := p.renderAndSync(ctx, pollID); err != nil {
		// Without an artifact the poll must not stay active.
		if revertErr := p.repo.SetPollStatus(ctx, pollID, models.StatusDraft); revertErr != nil {
			p.log.Error("revert poll status failed", zap.Int64("poll_id", pollID), zap.Error(revertErr))
		}
		return err
	}
	return nil
}

// Refresh rewrites the artifact from the latest store state. Concurrent
// calls for the same poll coalesce: at most one extra refresh is queued,
// representing "latest state".
func (p *Publisher) Refresh(ctx context.Context, pollID int64) {
	g := p.gate(pollID)

	g.mu.Lock()
	if g.busy {
		g.queued = true
		g.mu.Unlock()
		return
	}
	g.busy = true
	g.mu.Unlock()

	for {
		g.op.Lock()
		err := p.renderAndSync(ctx, pollID)
		g.op.Unlock()
		if err != nil && !errors.Is(err, models.ErrPollGone) {
			p.log.Warn("refresh failed", zap.Int64("poll_id", pollID), zap.Error(err))
		}

		g.mu.Lock()
		if g.queued {
			g.queued = false
			g.mu.Unlock()
			continue
		}
		g.busy = false
		g.mu.Unlock()
		return
	}
}

// Close transitions active → closed, removes the keyboard and performs the
// final refresh. Idempotent.
func (p *Publisher) Close(ctx context.Context, pollID int64) error {
	g := p.gate(pollID)
	g.op.Lock()
	defer g.op.Unlock()

	poll, err := p.repo.Poll(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.Status != models.StatusClosed {
		if err := p.repo.SetPollStatus(ctx, pollID, models.StatusClosed); err != nil {
			return err
		}
	}
	return p.renderAndSync(ctx, pollID)
}

// Reopen transitions closed → active and restores the keyboard.
func (p *Publisher) Reopen(ctx context.Context, pollID int64) error {
	g := p.gate(pollID)
	g.op.Lock()
	defer g.op.Unlock()

	poll, err := p.repo.Poll(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.Status != models.StatusActive {
		if err := p.repo.SetPollStatus(ctx, pollID, models.StatusActive); err != nil {
			return err
		}
	}
	return p.renderAndSync(ctx, pollID)
}

// MoveToBottom deletes and resends the artifact so it reappears at the
// chat tail.
func (p *Publisher) MoveToBottom(ctx context.Context, pollID int64) error {
	g := p.gate(pollID)
	g.op.Lock()
	defer g.op.Unlock()

	poll, err := p.repo.Poll(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.MessageID != 0 {
		if err := p.api.DeleteMessage(poll.ChatID, poll.MessageID); err != nil {
			if kind := telegram.Classify(err); kind != telegram.KindNotFound && kind != telegram.KindNotModified {
				p.log.Warn("delete before resend failed", zap.Int64("poll_id", pollID), zap.Error(err))
			}
		}
		if err := p.repo.SetMessageRef(ctx, pollID, 0, ""); err != nil {
			return err
		}
	}
	return p.renderAndSync(ctx, pollID)
}

// renderAndSync loads the bundle, renders the artifact and reconciles the
// live message with it, handling the four mode transitions. Callers hold
// the poll's op lock.
func (p *Publisher) renderAndSync(ctx context.Context, pollID int64) error {
	bundle, err := p.repo.Bundle(ctx, pollID)
	if err != nil {
		return err
	}
	poll := bundle.Poll
	if poll.Status == models.StatusDraft {
		return nil
	}

	caption := render.Caption(bundle)

	var image []byte
	if render.NeedsImage(bundle) {
		participants, err := p.repo.Participants(ctx, poll.ChatID)
		if err != nil {
			return err
		}
		image, err = heatmap.Render(bundle, participants)
		if err != nil {
			return err
		}
	}

	kb := Keyboard(poll, p.webURL)

	switch {
	case poll.MessageID == 0:
		return p.sendArtifact(ctx, poll, caption, image, kb)

	case poll.PhotoID != "" && image != nil:
		// photo → photo: edit media in place.
		return p.withPlatformPolicy(ctx, &poll, func(poll models.Poll) error {
			photoID, err := p.api.EditMedia(poll.ChatID, poll.MessageID, image, caption, kb)
			if err != nil {
				return err
			}
			return p.repo.SetMessageRef(ctx, poll.ID, poll.MessageID, photoID)
		})

	case poll.PhotoID == "" && image == nil:
		// text → text: edit in place.
		return p.withPlatformPolicy(ctx, &poll, func(poll models.Poll) error {
			return p.api.EditText(poll.ChatID, poll.MessageID, caption, kb)
		})

	default:
		// Mode flip: delete the old artifact and send a new one. The
		// photo ref is cleared whenever the new artifact is text-only.
		if err := p.api.DeleteMessage(poll.ChatID, poll.MessageID); err != nil {
			if kind := telegram.Classify(err); kind != telegram.KindNotFound && kind != telegram.KindNotModified {
				p.log.Warn("delete old artifact failed", zap.Int64("poll_id", poll.ID), zap.Error(err))
			}
		}
		return p.sendArtifact(ctx, poll, caption, image, kb)
	}
}

func (p *Publisher) sendArtifact(ctx context.Context, poll models.Poll, caption string, image []byte, kb *tgbotapi.InlineKeyboardMarkup) error {
	return p.withPlatformPolicy(ctx, &poll, func(poll models.Poll) error {
		if image != nil {
			msgID, photoID, err := p.api.SendPhoto(poll.ChatID, image, caption, kb)
			if err != nil {
				return err
			}
			return p.repo.SetMessageRef(ctx, poll.ID, msgID, photoID)
		}
		msgID, err := p.api.SendText(poll.ChatID, caption, kb, 0)
		if err != nil {
			return err
		}
		return p.repo.SetMessageRef(ctx, poll.ID, msgID, "")
	})
}

// withPlatformPolicy applies the transport error policy around one
// platform operation: "not modified" is success, a migrated chat updates
// the poll's chat_id and retries once, a missing message clears the stale
// ref, rate limits defer the refresh (the vote is already committed), and
// transient failures get a bounded backoff.
func (p *Publisher) withPlatformPolicy(ctx context.Context, poll *models.Poll, op func(models.Poll) error) error {
	backoff := 200 * time.Millisecond
	migrated := false

	for attempt := 0; ; attempt++ {
		err := op(*poll)
		if err == nil {
			return nil
		}

		switch telegram.Classify(err) {
		case telegram.KindNotModified:
			return nil

		case telegram.KindNotFound:
			if refErr := p.repo.SetMessageRef(ctx, poll.ID, 0, ""); refErr != nil {
				return refErr
			}
			p.log.Info("stale artifact ref cleared", zap.Int64("poll_id", poll.ID))
			return nil

		case telegram.KindMigrated:
			newChat, _ := telegram.MigratedTo(err)
			if migrated || newChat == 0 {
				return err
			}
			migrated = true
			if refErr := p.repo.SetPollChat(ctx, poll.ID, newChat); refErr != nil {
				return refErr
			}
			poll.ChatID = newChat
			continue

		case telegram.KindFloodWait:
			delay, _ := telegram.RetryAfter(err)
			if delay <= 0 {
				delay = 3 * time.Second
			}
			p.log.Info("rate limited, deferring refresh",
				zap.Int64("poll_id", poll.ID), zap.Duration("retry_after", delay))
			pollID := poll.ID
			time.AfterFunc(delay, func() {
				p.Refresh(context.Background(), pollID)
			})
			return nil

		case telegram.KindTransient:
			if attempt+1 >= transientRetries {
				return err
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 3
			continue

		default:
			return err
		}
	}
}
