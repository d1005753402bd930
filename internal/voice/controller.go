package voice

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

type Deps struct {
	Backend    Backend
	Microphone Microphone
	Decoder    DurationDecoder
	Output     AudioOutput
	Gate       *InteractionGate
	Beacon     Beacon
	Events     Events
	Logger     *logrus.Logger
}

// Params is the identity and configuration bundle resolved before a session
// starts. It is read once by Start and never consulted again.
type Params struct {
	UserID     string
	Email      string
	ConfigName string
	ConfigID   string
	Profile    *interviewapi.UserProfile
}

// Controller is the state machine of one interview session. All flags are
// guarded by mu; network calls run with mu released.
type Controller struct {
	mu sync.Mutex

	mode     Mode
	backend  Backend
	mic      Microphone
	decoder  DurationDecoder
	beacon   Beacon
	events   Events
	log      *logrus.Entry
	playback *Playback

	session       models.Session
	phase         Phase
	welcomePlayed bool

	recorder RecorderState
	capture  Capture
	// recGen identifies the recording a pending Acquire belongs to
	recGen uint64

	responding bool
	final      finalState
}

// New returns a live controller; call Start to bootstrap it.
func New(d Deps) *Controller {
	return newController(ModeLive, d)
}

// NewReplay returns a playback-only controller over an archived session.
func NewReplay(s models.Session, d Deps) *Controller {
	c := newController(ModePlayback, d)
	c.session = s
	c.session.Messages = append([]models.Turn(nil), s.Messages...)
	c.phase = PhaseReady
	c.welcomePlayed = true
	return c
}

func newController(mode Mode, d Deps) *Controller {
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	if d.Decoder == nil {
		d.Decoder = WAVDecoder{}
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}

	c := &Controller{
		mode:     mode,
		backend:  d.Backend,
		mic:      d.Microphone,
		decoder:  d.Decoder,
		beacon:   d.Beacon,
		events:   d.Events,
		log:      d.Logger.WithFields(logrus.Fields{"component": "voice", "mode": string(mode)}),
		phase:    PhaseIdle,
		recorder: RecorderIdle,
	}
	c.playback = NewPlayback(d.Output, d.Gate, c.log)
	c.playback.onChange = c.changed
	c.playback.onError = c.playbackFailed
	return c
}

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ThreadID
}

// Session returns a copy of the current transcript and identifiers.
func (c *Controller) Session() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionLocked()
}

func (c *Controller) sessionLocked() models.Session {
	s := c.session
	s.Messages = append([]models.Turn(nil), c.session.Messages...)
	return s
}

func (c *Controller) Playback() *Playback { return c.playback }

// Snapshot is the client-facing view of a session.
type Snapshot struct {
	ThreadID   string        `json:"thread_id"`
	ConfigName string        `json:"config_name"`
	ConfigID   string        `json:"config_id"`
	Mode       Mode          `json:"mode"`
	Phase      Phase         `json:"phase"`
	Messages   []models.Turn `json:"messages"`
	TextOnly   bool          `json:"text_only"`

	Recorder         RecorderState `json:"recorder"`
	Responding       bool          `json:"responding"`
	AISpeaking       bool          `json:"ai_speaking"`
	CurrentlyPlaying int           `json:"currently_playing"`
	AutoplayPending  bool          `json:"autoplay_pending"`
	MicEnabled       bool          `json:"mic_enabled"`

	Saving       bool `json:"saving"`
	Finalized    bool `json:"finalized"`
	ConfirmLeave bool `json:"confirm_leave"`

	At time.Time `json:"at"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ThreadID:         c.session.ThreadID,
		ConfigName:       c.session.ConfigName,
		ConfigID:         c.session.ConfigID,
		Mode:             c.mode,
		Phase:            c.phase,
		Messages:         append([]models.Turn{}, c.session.Messages...),
		TextOnly:         c.session.TextOnly,
		Recorder:         c.recorder,
		Responding:       c.responding,
		AISpeaking:       c.playback.AISpeaking(),
		CurrentlyPlaying: c.playback.Current(),
		AutoplayPending:  c.playback.Pending() > 0,
		MicEnabled:       c.canRecordLocked() == nil,
		Saving:           c.final == finalSaving,
		Finalized:        c.final == finalSaved,
		ConfirmLeave:     c.confirmLeaveLocked(),
		At:               time.Now().UTC(),
	}
}

// Play starts playback of the turn at index, stopping anything else first.
// The request counts as a user gesture.
func (c *Controller) Play(index int) error {
	const op = "Controller.Play"

	c.playback.Gesture()

	c.mu.Lock()
	if index < 0 || index >= len(c.session.Messages) {
		c.mu.Unlock()
		return utils.E(utils.CodeInvalidArgument, op, "turn index out of range", ErrNoTurn)
	}
	t := c.session.Messages[index]
	final := c.final
	recording := c.recorder != RecorderIdle
	c.mu.Unlock()

	if final != finalNone {
		return utils.E(utils.CodeConflict, op, "session finalized", ErrFinalized)
	}
	if recording && t.Sender == models.SenderAI {
		return utils.E(utils.CodeConflict, op, "microphone is open", ErrRecording)
	}
	if !t.IsReady {
		return utils.E(utils.CodeConflict, op, "turn is still being generated", ErrTurnNotReady)
	}

	err := c.playback.Play(Clip{Index: index, URL: t.AudioURL, Sender: t.Sender})
	if err != nil && utils.IsCode(err, utils.CodePlayback) && t.AudioURL == "" {
		c.notice(NoticeWarn, utils.CodePlayback, "This message has no audio to play.")
	}
	return err
}

// Stop stops whatever is playing.
func (c *Controller) Stop() {
	c.playback.StopAll()
}

func (c *Controller) playbackFailed(clip Clip, err error) {
	c.log.WithError(err).WithField("index", clip.Index).Warn("audio playback failed")
	c.notice(NoticeWarn, utils.CodePlayback, "Audio could not be played.")
}

func (c *Controller) notice(level NoticeLevel, code utils.Code, msg string) {
	c.events.Notice(Notice{Level: level, Code: code, Message: msg, ThreadID: c.ThreadID()})
}

func (c *Controller) changed() {
	c.events.Changed()
}
