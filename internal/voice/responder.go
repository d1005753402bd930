package voice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

// Respond obtains and speaks the AI reply to utterance. Replies are strictly
// serialized: a second call while one is in flight fails with ErrTurnInFlight.
func (c *Controller) Respond(ctx context.Context, utterance string) error {
	const op = "Controller.Respond"

	c.mu.Lock()
	switch {
	case c.mode != ModeLive:
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session is playback only", ErrPlaybackOnly)
	case c.final != finalNone:
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	case c.phase != PhaseReady:
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session is not ready", ErrNotReady)
	case c.responding:
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "reply in progress", ErrTurnInFlight)
	}
	c.responding = true
	c.mu.Unlock()
	c.changed()

	return c.respond(ctx, utterance)
}

// respond runs with c.responding already reserved by the caller.
func (c *Controller) respond(ctx context.Context, utterance string) error {
	const op = "Controller.respond"

	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	log := c.log.WithField("thread_id", s.ThreadID)

	resp, err := c.backend.Chat(ctx, interviewapi.ChatRequest{
		Message:    utterance,
		ThreadID:   s.ThreadID,
		Email:      s.Email,
		ConfigName: s.ConfigName,
		ConfigID:   s.ConfigID,
	})
	if err != nil {
		c.mu.Lock()
		c.responding = false
		c.mu.Unlock()

		log.WithError(err).Error("reply failed")
		c.notice(NoticeError, utils.CodeUnavailable, "The interviewer couldn't respond. Please try again.")
		c.changed()
		return utils.E(utils.CodeUnavailable, op, "reply failed", err)
	}

	reply := strings.TrimSpace(resp.Response)
	if reply == "" {
		reply = thinkingFallback
	}

	pending := models.Turn{
		ID:        uuid.NewString(),
		Text:      generatingPlaceholder,
		RealText:  reply,
		Sender:    models.SenderAI,
		IsReady:   false,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	if c.final != finalNone {
		c.responding = false
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	}
	c.session.Messages = append(c.session.Messages, pending)
	index := len(c.session.Messages) - 1
	c.mu.Unlock()

	metrics.TurnsTotal.WithLabelValues(string(models.SenderAI)).Inc()
	c.changed()

	speech, synthErr := c.backend.TextToSpeech(ctx, interviewapi.SpeechRequest{Text: reply, Email: s.Email})

	c.mu.Lock()
	t := &c.session.Messages[index]
	t.Text = t.RealText
	t.RealText = ""
	t.IsReady = true
	if synthErr == nil {
		t.AudioURL = speech.AudioURL
		t.Duration = speech.Duration
	}
	clip := Clip{Index: index, URL: t.AudioURL, Sender: t.Sender}
	c.responding = false
	live := c.final == finalNone
	c.mu.Unlock()
	c.changed()

	if synthErr != nil {
		// the synthesis step is skipped: the reply stays readable without audio
		log.WithError(synthErr).Warn("reply synthesis failed")
		c.notice(NoticeWarn, utils.CodeUnavailable, "Audio for this reply is unavailable.")
		return nil
	}

	if live {
		if err := c.playback.Play(clip); err != nil {
			log.WithError(err).Warn("reply autoplay failed")
		}
	}
	return nil
}
