package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

// Start opens a thread on the backend and seeds the transcript with exactly
// one ready AI turn. Calling it again on a ready session is a no-op.
func (c *Controller) Start(ctx context.Context, p Params) error {
	const op = "Controller.Start"

	if p.UserID == "" || p.Email == "" {
		return utils.E(utils.CodeSetupIdentity, op, "sign in required", ErrNoIdentity)
	}
	if p.ConfigName == "" || p.ConfigID == "" {
		return utils.E(utils.CodeSetupConfig, op, "select an interview configuration first", ErrNoConfig)
	}

	c.mu.Lock()
	if c.mode != ModeLive {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session is playback only", ErrPlaybackOnly)
	}
	if c.final != finalNone {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	}
	switch c.phase {
	case PhaseReady:
		c.mu.Unlock()
		return nil
	case PhaseStarting:
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session is starting", ErrStarting)
	}
	c.phase = PhaseStarting
	c.mu.Unlock()
	c.changed()

	log := c.log.WithFields(logrus.Fields{"user_id": p.UserID, "config_id": p.ConfigID})

	resp, err := c.backend.NewChat(ctx, interviewapi.NewChatRequest{
		Email:       p.Email,
		Name:        p.ConfigName,
		UserProfile: p.Profile,
	})
	if err != nil {
		c.mu.Lock()
		c.phase = PhaseFailed
		c.mu.Unlock()
		c.changed()

		log.WithError(err).Error("thread creation failed")
		return utils.E(utils.CodeUnavailable, op, "could not start the interview, please retry", &SessionInitError{Err: err})
	}

	opening := strings.TrimSpace(resp.Response)
	if opening == "" {
		opening = fmt.Sprintf(welcomeFallback, p.ConfigName)
	}

	now := time.Now().UTC()
	turn := models.Turn{
		ID:        uuid.NewString(),
		Text:      opening,
		Sender:    models.SenderAI,
		IsReady:   true,
		CreatedAt: now,
	}

	textOnly := false
	speech, err := c.backend.TextToSpeech(ctx, interviewapi.SpeechRequest{Text: opening, Email: p.Email})
	if err != nil {
		textOnly = true
		log.WithError(err).WithField("thread_id", resp.ThreadID).Warn("welcome synthesis failed, continuing text only")
	} else {
		turn.AudioURL = speech.AudioURL
		turn.Duration = speech.Duration
	}

	c.mu.Lock()
	if c.final != finalNone {
		// torn down while bootstrapping
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	}
	c.session = models.Session{
		ThreadID:   resp.ThreadID,
		UserID:     p.UserID,
		Email:      p.Email,
		ConfigName: p.ConfigName,
		ConfigID:   p.ConfigID,
		Messages:   []models.Turn{turn},
		TextOnly:   textOnly,
		StartedAt:  now,
	}
	c.phase = PhaseReady
	autoplay := !c.welcomePlayed && turn.AudioURL != ""
	c.welcomePlayed = true
	c.mu.Unlock()

	metrics.TurnsTotal.WithLabelValues(string(models.SenderAI)).Inc()
	log.WithField("thread_id", resp.ThreadID).Info("interview started")
	c.changed()

	if autoplay {
		if err := c.playback.Play(Clip{Index: 0, URL: turn.AudioURL, Sender: models.SenderAI}); err != nil {
			log.WithError(err).Warn("welcome autoplay failed")
		}
	}
	return nil
}
