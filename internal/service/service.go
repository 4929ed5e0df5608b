package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/repository"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/telegram"
)

const (
	adminProbeTimeout = 5 * time.Second
	adminProbeLimit   = 10
)

// Service holds the vote engine and the poll-membership queries built on
// top of the repository.
type Service struct {
	repo *repository.Repository
	api  telegram.API
	log  *zap.Logger
}

func New(repo *repository.Repository, api telegram.API, log *zap.Logger) *Service {
	return &Service{repo: repo, api: api, log: log}
}

func (s *Service) Repo() *repository.Repository { return s.repo }

// Vote ingests one vote event. Exactly one of optionIndex / optionText is
// used: native button votes carry an index, web-app votes carry free text.
// The vote is always committed even when the display update later fails.
func (s *Service) Vote(ctx context.Context, pollID int64, voter models.User, optionIndex *int, optionText *string) (models.VoteOutcome, models.Poll, error) {
	var out models.VoteOutcome

	poll, err := s.repo.Poll(ctx, pollID)
	if err != nil {
		return out, poll, err
	}
	if poll.Status != models.StatusActive {
		return out, poll, models.ErrPollInactive
	}

	bundle, err := s.repo.Bundle(ctx, pollID)
	if err != nil {
		return out, poll, err
	}

	var text string
	switch {
	case optionIndex != nil:
		if *optionIndex < 0 || *optionIndex >= len(poll.Options) {
			return out, poll, models.ErrOptionOutOfRange
		}
		text = strings.TrimSpace(poll.Options[*optionIndex])
	case optionText != nil:
		text = strings.TrimSpace(*optionText)
	}
	if text == "" {
		return out, poll, models.ErrUserInputInvalid
	}

	if err := s.repo.UpsertUser(ctx, voter); err != nil {
		return out, poll, err
	}
	// A vote counts as acting in the chat.
	if err := s.repo.UpsertParticipant(ctx, models.Participant{
		ChatID:    poll.ChatID,
		UserID:    voter.ID,
		FirstName: voter.FirstName,
		LastName:  voter.LastName,
		Username:  voter.Username,
	}); err != nil {
		return out, poll, err
	}

	out, err = s.repo.ApplyVote(ctx, pollID, voter.ID, text, bundle.Settings.AllowMultiple)
	if err != nil {
		return out, poll, err
	}

	s.log.Info("vote applied",
		zap.Int64("poll_id", pollID),
		zap.Int64("user_id", voter.ID),
		zap.String("state", out.FinalState),
		zap.Bool("changed", out.Changed))
	return out, poll, nil
}

// Pending computes who still owes a vote: chat participants minus chat
// exclusions, poll exclusions and responders.
func (s *Service) Pending(ctx context.Context, b *models.Bundle) ([]models.Participant, error) {
	participants, err := s.repo.Participants(ctx, b.Poll.ChatID)
	if err != nil {
		return nil, err
	}

	voted := make(map[int64]bool)
	for _, id := range b.Responders() {
		voted[id] = true
	}

	var pending []models.Participant
	for _, p := range participants {
		if p.Excluded || b.Exclusions[p.UserID] || voted[p.UserID] {
			continue
		}
		pending = append(pending, p)
	}
	return pending, nil
}

// StartablePoll validates the draft before it may go active.
func StartablePoll(p models.Poll) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: название не может быть пустым", models.ErrUserInputInvalid)
	}
	if p.Kind == models.KindWebApp {
		return nil
	}
	if len(p.Options) < 2 {
		return fmt.Errorf("%w: нужно минимум 2 варианта", models.ErrUserInputInvalid)
	}
	for _, o := range p.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: вариант не может быть пустым", models.ErrUserInputInvalid)
		}
	}
	return nil
}

// ChatsWhereAdmin probes every known group with one getChatAdministrators
// RPC, at most adminProbeLimit in flight and adminProbeTimeout per chat.
// Chats that time out are dropped, not retried.
func (s *Service) ChatsWhereAdmin(ctx context.Context, userID int64) ([]models.Chat, error) {
	groups, err := s.repo.Groups(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]bool, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(adminProbeLimit)

	for i, chat := range groups {
		g.Go(func() error {
			ok, err := s.probeAdmin(gctx, chat.ID, userID)
			if err != nil {
				s.log.Debug("admin probe failed", zap.Int64("chat_id", chat.ID), zap.Error(err))
				return nil // drop, do not fail the whole listing
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Chat
	for i, ok := range results {
		if ok {
			out = append(out, groups[i])
		}
	}
	return out, nil
}

func (s *Service) probeAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	type probeResult struct {
		isAdmin bool
		err     error
	}
	ch := make(chan probeResult, 1)
	go func() {
		admins, err := s.api.ChatAdministrators(chatID)
		if err != nil {
			ch <- probeResult{err: err}
			return
		}
		for _, a := range admins {
			if a.User != nil && a.User.ID == userID {
				ch <- probeResult{isAdmin: true}
				return
			}
		}
		ch <- probeResult{}
	}()

	timer := time.NewTimer(adminProbeTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.isAdmin, res.err
	case <-timer.C:
		return false, fmt.Errorf("admin probe of chat %d timed out", chatID)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
