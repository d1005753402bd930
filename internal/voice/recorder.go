package voice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

// canRecordLocked reports why the microphone control is disabled, if it is.
func (c *Controller) canRecordLocked() error {
	switch {
	case c.mode != ModeLive:
		return ErrPlaybackOnly
	case c.final != finalNone:
		return ErrFinalized
	case c.phase != PhaseReady:
		return ErrNotReady
	case c.recorder != RecorderIdle:
		return ErrAlreadyRecording
	case c.responding:
		return ErrTurnInFlight
	case c.playback.AISpeaking(), c.playback.AIQueued():
		return ErrAISpeaking
	}
	return nil
}

// StartRecording moves the recorder from Idle to Recording and acquires the
// microphone. The request counts as a user gesture, so clips waiting on the
// gate start first and an AI clip among them keeps the microphone closed.
func (c *Controller) StartRecording(ctx context.Context) error {
	const op = "Controller.StartRecording"

	c.playback.Gesture()

	c.mu.Lock()
	if err := c.canRecordLocked(); err != nil {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "microphone is disabled", err)
	}
	c.recorder = RecorderRecording
	c.recGen++
	gen := c.recGen
	c.mu.Unlock()

	capture, err := c.mic.Acquire(ctx)
	if err != nil {
		c.mu.Lock()
		if c.recGen == gen && c.recorder == RecorderRecording {
			c.recorder = RecorderIdle
		}
		c.mu.Unlock()

		c.log.WithError(err).Warn("microphone unavailable")
		c.notice(NoticeError, utils.CodeResource, "Microphone access was denied or is unavailable.")
		c.changed()
		return utils.E(utils.CodeResource, op, "microphone unavailable", err)
	}

	c.mu.Lock()
	if c.final != finalNone {
		c.mu.Unlock()
		_ = capture.Close()
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	}
	if c.recGen != gen || c.recorder != RecorderRecording {
		// cancelled while the microphone was being acquired
		c.mu.Unlock()
		_ = capture.Close()
		return utils.E(utils.CodeConflict, op, "recording cancelled", ErrNotRecording)
	}
	c.capture = capture
	c.mu.Unlock()

	c.changed()
	return nil
}

// StopRecording packages the capture, transcribes it, appends the user turn
// and hands it to the responder. On any failure the transcript is untouched.
func (c *Controller) StopRecording(ctx context.Context) error {
	const op = "Controller.StopRecording"

	c.mu.Lock()
	if c.recorder != RecorderRecording || c.capture == nil {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "not recording", ErrNotRecording)
	}
	capture := c.capture
	c.capture = nil
	c.recorder = RecorderProcessing
	email := c.session.Email
	c.mu.Unlock()
	c.changed()

	clip, stopErr := capture.Stop()
	if err := capture.Close(); err != nil {
		c.log.WithError(err).Warn("capture release failed")
	}

	turn, err := c.transcribe(ctx, email, clip, stopErr)
	if err != nil {
		c.mu.Lock()
		c.recorder = RecorderIdle
		c.mu.Unlock()

		c.log.WithError(err).Warn("recording abandoned")
		c.notice(NoticeError, utils.CodeOf(err), noticeForRecording(err))
		c.changed()
		return err
	}

	c.mu.Lock()
	if c.final != finalNone {
		c.recorder = RecorderIdle
		c.mu.Unlock()
		c.changed()
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	}
	c.session.Messages = append(c.session.Messages, turn)
	c.recorder = RecorderIdle
	// reserve the responder before releasing the lock so no other turn can
	// slip in between the user turn and its reply
	c.responding = true
	c.mu.Unlock()

	metrics.TurnsTotal.WithLabelValues(string(models.SenderUser)).Inc()
	c.changed()

	return c.respond(ctx, turn.Text)
}

// CancelRecording discards an active capture without transcribing it.
func (c *Controller) CancelRecording() {
	c.mu.Lock()
	capture := c.capture
	c.capture = nil
	wasRecording := c.recorder == RecorderRecording
	if wasRecording {
		c.recorder = RecorderIdle
		c.recGen++
	}
	c.mu.Unlock()

	if capture == nil {
		if wasRecording {
			c.changed()
		}
		return
	}
	if err := capture.Close(); err != nil {
		c.log.WithError(err).Warn("capture release failed")
	}
	c.changed()
}

func (c *Controller) transcribe(ctx context.Context, email string, clip []byte, stopErr error) (models.Turn, error) {
	const op = "Controller.transcribe"

	if stopErr != nil {
		return models.Turn{}, utils.E(utils.CodeResource, op, "recording failed", stopErr)
	}
	if len(clip) == 0 {
		return models.Turn{}, utils.E(utils.CodeResource, op, "recording is empty", ErrEmptyRecording)
	}

	dur, err := c.decoder.Duration(clip)
	if err != nil {
		return models.Turn{}, utils.E(utils.CodeResource, op, "could not decode recording", err)
	}

	tr, err := c.backend.SpeechToText(ctx, email, clip)
	if err != nil {
		return models.Turn{}, utils.E(utils.CodeUnavailable, op, "transcription failed", err)
	}
	text := strings.TrimSpace(tr.Transcript)
	if text == "" {
		return models.Turn{}, utils.E(utils.CodeResource, op, "no speech recognized", ErrNoSpeech)
	}

	return models.Turn{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    models.SenderUser,
		AudioURL:  tr.AudioURL,
		Duration:  dur.Seconds(),
		IsReady:   true,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func noticeForRecording(err error) string {
	switch utils.CodeOf(err) {
	case utils.CodeUnavailable, utils.CodeTimeout:
		return "We couldn't transcribe your answer. Please try again."
	default:
		return "We couldn't hear anything in that recording. Please try again."
	}
}
