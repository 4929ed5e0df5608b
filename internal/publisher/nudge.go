package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/render"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/telegram"
)

// RefreshNudge maintains the "waiting for your vote" companion message.
// Invariant: at most one nudge message per poll, identified by nudge_ref.
func (p *Publisher) RefreshNudge(ctx context.Context, pollID int64) error {
	g := p.gate(pollID)
	g.op.Lock()
	defer g.op.Unlock()

	bundle, err := p.repo.Bundle(ctx, pollID)
	if err != nil {
		return err
	}
	poll := bundle.Poll

	pending, err := p.svc.Pending(ctx, bundle)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		if poll.NudgeID == 0 {
			return nil
		}
		// Everyone voted: celebrate once, then forget the message.
		if err := p.api.EditText(poll.ChatID, poll.NudgeID, render.AllVotedText, nil); err != nil {
			if kind := telegram.Classify(err); kind != telegram.KindNotModified && kind != telegram.KindNotFound {
				return err
			}
		}
		return p.repo.SetNudgeRef(ctx, pollID, 0)
	}

	text := render.NudgeText(pending, bundle.Settings.NudgeNegativeEmoji)

	if poll.NudgeID == 0 {
		msgID, err := p.api.SendText(poll.ChatID, text, nil, poll.MessageID)
		if err != nil {
			return err
		}
		return p.repo.SetNudgeRef(ctx, pollID, msgID)
	}

	if err := p.api.EditText(poll.ChatID, poll.NudgeID, text, nil); err != nil {
		switch telegram.Classify(err) {
		case telegram.KindNotModified:
			return nil
		case telegram.KindNotFound:
			p.log.Info("stale nudge ref cleared", zap.Int64("poll_id", pollID))
			return p.repo.SetNudgeRef(ctx, pollID, 0)
		default:
			return err
		}
	}
	return nil
}

// RemoveNudge deletes the nudge message if present and clears the ref.
// A message that is already gone counts as success.
func (p *Publisher) RemoveNudge(ctx context.Context, pollID int64) error {
	poll, err := p.repo.Poll(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.NudgeID == 0 {
		return nil
	}
	if err := p.api.DeleteMessage(poll.ChatID, poll.NudgeID); err != nil {
		if kind := telegram.Classify(err); kind != telegram.KindNotFound {
			return err
		}
	}
	return p.repo.SetNudgeRef(ctx, pollID, 0)
}
