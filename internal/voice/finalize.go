package voice

import (
	"context"

	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

// EndResult reports an explicit End Interview.
type EndResult struct {
	Saved    bool           `json:"saved"`
	Skipped  bool           `json:"skipped"`           // only the seed turn, nothing to persist
	Already  bool           `json:"already_finalized"` // a previous End or Teardown won
	SaveErr  error          `json:"-"`
	Redirect string         `json:"redirect"`
	Session  models.Session `json:"-"`
}

// TeardownResult reports an implicit end (navigation away, disconnect).
type TeardownResult struct {
	Beaconed bool
	Already  bool
	Session  models.Session
}

// End stops all audio, persists the transcript once and always sends the
// client back to the dashboard, whether or not the save worked.
func (c *Controller) End(ctx context.Context) (EndResult, error) {
	const op = "Controller.End"

	c.mu.Lock()
	if c.mode != ModeLive {
		c.mu.Unlock()
		c.playback.Close()
		return EndResult{Skipped: true, Redirect: utils.RedirectDashboard}, nil
	}
	if c.final != finalNone {
		c.mu.Unlock()
		return EndResult{Already: true, Redirect: utils.RedirectDashboard}, nil
	}
	c.final = finalSaving
	capture := c.releaseCaptureLocked()
	s := c.sessionLocked()
	c.mu.Unlock()

	c.closeCapture(capture)
	c.playback.StopAll()
	c.changed()

	res := EndResult{Redirect: utils.RedirectDashboard, Session: s}
	log := c.log.WithField("thread_id", s.ThreadID)

	if len(s.Messages) <= 1 {
		res.Skipped = true
		metrics.SessionsFinalized.WithLabelValues("skipped").Inc()
	} else if err := c.backend.SaveChatHistory(ctx, HistoryRequest(s)); err != nil {
		res.SaveErr = utils.E(utils.CodeUnavailable, op, "could not save interview", err)
		log.WithError(err).Error("transcript save failed")
		c.notice(NoticeError, utils.CodeUnavailable, "Your interview could not be saved.")
	} else {
		res.Saved = true
		metrics.SessionsFinalized.WithLabelValues("explicit").Inc()
		log.WithField("turns", len(s.Messages)).Info("interview saved")
		c.notice(NoticeInfo, "", "Interview saved.")
	}

	c.mu.Lock()
	c.final = finalSaved
	c.mu.Unlock()

	c.playback.Close()
	c.changed()
	return res, nil
}

// Teardown releases every resource and, when unsaved turns exist, hands the
// transcript to the beacon. Safe to call any number of times.
func (c *Controller) Teardown() TeardownResult {
	c.mu.Lock()
	already := c.final != finalNone
	beacon := c.mode == ModeLive && !already && len(c.session.Messages) > 1
	if c.final == finalNone {
		c.final = finalSaved
	}
	capture := c.releaseCaptureLocked()
	s := c.sessionLocked()
	c.mu.Unlock()

	c.closeCapture(capture)
	c.playback.Close()

	if beacon && c.beacon != nil {
		c.beacon.Send(HistoryRequest(s))
		metrics.SessionsFinalized.WithLabelValues("beacon").Inc()
		c.log.WithField("thread_id", s.ThreadID).Info("transcript handed to beacon")
	}
	if !already {
		c.changed()
	}
	return TeardownResult{Beaconed: beacon && c.beacon != nil, Already: already, Session: s}
}

// ConfirmLeave reports whether leaving now would drop unsaved turns.
func (c *Controller) ConfirmLeave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmLeaveLocked()
}

func (c *Controller) confirmLeaveLocked() bool {
	return c.mode == ModeLive && c.final == finalNone && len(c.session.Messages) > 1
}

func (c *Controller) releaseCaptureLocked() Capture {
	capture := c.capture
	c.capture = nil
	c.recorder = RecorderIdle
	return capture
}

func (c *Controller) closeCapture(capture Capture) {
	if capture == nil {
		return
	}
	if err := capture.Close(); err != nil {
		c.log.WithError(err).Warn("capture release failed")
	}
}

// HistoryRequest builds the chat_history payload for s, in transcript order.
// A turn still being synthesized is persisted with its real content.
func HistoryRequest(s models.Session) interviewapi.ChatHistoryRequest {
	msgs := make([]interviewapi.HistoryMessage, 0, len(s.Messages))
	for _, t := range s.Messages {
		text := t.Text
		if !t.IsReady && t.RealText != "" {
			text = t.RealText
		}
		msgs = append(msgs, interviewapi.HistoryMessage{
			Text:     text,
			Sender:   string(t.Sender),
			AudioURL: t.AudioURL,
			Duration: t.Duration,
		})
	}
	return interviewapi.ChatHistoryRequest{
		ThreadID:   s.ThreadID,
		Email:      s.Email,
		Messages:   msgs,
		ConfigName: s.ConfigName,
		ConfigID:   s.ConfigID,
	}
}
