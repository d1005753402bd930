// Package voice drives one live voice mock-interview: bootstrap, turn
// recording and transcription, AI replies with synthesized speech, exclusive
// audio playback, and finalization on every exit path.
//
// Everything outside the process (microphone, audio output, the remote
// interview API, page-unload delivery) is reached through the interfaces
// below, so the same Controller serves a websocket client in production and
// fakes in tests.
package voice

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/utils"
)

// Backend is the subset of the remote interview API a session uses.
type Backend interface {
	NewChat(ctx context.Context, req interviewapi.NewChatRequest) (*interviewapi.NewChatResponse, error)
	SpeechToText(ctx context.Context, email string, clip []byte) (*interviewapi.Transcription, error)
	Chat(ctx context.Context, req interviewapi.ChatRequest) (*interviewapi.ChatResponse, error)
	TextToSpeech(ctx context.Context, req interviewapi.SpeechRequest) (*interviewapi.Speech, error)
	SaveChatHistory(ctx context.Context, req interviewapi.ChatHistoryRequest) error
}

// Microphone hands out capture resources, one per recording.
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture accumulates audio until Stop packages it into a single clip.
// Close releases the underlying resource and must be safe to call twice.
type Capture interface {
	Stop() ([]byte, error)
	Close() error
}

// DurationDecoder computes a clip's playable length.
type DurationDecoder interface {
	Duration(clip []byte) (time.Duration, error)
}

// AudioOutput opens playable handles for clip locators.
type AudioOutput interface {
	Open(src string) (AudioHandle, error)
}

// AudioHandle is one owned player resource.
//
// Play must not invoke onDone synchronously; onDone reports natural end
// (nil) or a playback failure. After Detach no callback may reach the owner.
type AudioHandle interface {
	Play(onDone func(err error)) error
	Pause() error
	Reset() error
	Detach()
	Release() error
}

// Beacon delivers a transcript without requiring the caller to stay alive.
type Beacon interface {
	Send(req interviewapi.ChatHistoryRequest)
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a non-blocking user notification.
type Notice struct {
	Level    NoticeLevel `json:"level"`
	Code     utils.Code  `json:"code,omitempty"`
	Message  string      `json:"message"`
	ThreadID string      `json:"thread_id,omitempty"`
}

// Events receives notices and state-change signals. Implementations are
// invoked without any controller lock held and may call Snapshot.
type Events interface {
	Notice(n Notice)
	Changed()
}

type nopEvents struct{}

func (nopEvents) Notice(Notice) {}
func (nopEvents) Changed()      {}

type Mode string

const (
	ModeLive     Mode = "live"
	ModePlayback Mode = "playback"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseReady    Phase = "ready"
	PhaseFailed   Phase = "failed"
)

type RecorderState string

const (
	RecorderIdle       RecorderState = "idle"
	RecorderRecording  RecorderState = "recording"
	RecorderProcessing RecorderState = "processing"
)

type finalState int

const (
	finalNone finalState = iota
	finalSaving
	finalSaved
)

const (
	welcomeFallback       = "Welcome to your %s! I'll be your interviewer today. To start, please tell me a little about yourself."
	thinkingFallback      = "Let me think about that for a moment."
	generatingPlaceholder = "..."
)

var (
	ErrNoIdentity       = errors.New("no user identity for session")
	ErrNoConfig         = errors.New("no interview configuration selected")
	ErrStarting         = errors.New("session bootstrap in progress")
	ErrNotReady         = errors.New("session is not ready")
	ErrPlaybackOnly     = errors.New("session is playback only")
	ErrFinalized        = errors.New("session already finalized")
	ErrAISpeaking       = errors.New("ai is speaking")
	ErrAlreadyRecording = errors.New("recording already active")
	ErrNotRecording     = errors.New("no active recording")
	ErrRecording        = errors.New("recording is active")
	ErrTurnInFlight     = errors.New("a reply is still being produced")
	ErrEmptyRecording   = errors.New("recording is empty")
	ErrNoSpeech         = errors.New("no speech recognized")
	ErrNoTurn           = errors.New("no such turn")
	ErrTurnNotReady     = errors.New("turn is not ready")
	ErrNoAudio          = errors.New("turn has no audio")
	ErrClosed           = errors.New("playback closed")
)

// SessionInitError reports a failed thread creation. The session is left
// non-playable and Start may be retried.
type SessionInitError struct {
	Err error
}

func (e *SessionInitError) Error() string { return "session init: " + e.Err.Error() }
func (e *SessionInitError) Unwrap() error { return e.Err }
