package voice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

// Clip is a play request for one turn's audio.
type Clip struct {
	Index  int
	URL    string
	Sender models.Sender
}

type ownedHandle struct {
	h    AudioHandle
	clip Clip
}

// Playback owns every audio handle of one session. At most one clip plays at
// a time: starting a clip stops and releases whatever was tracked before.
//
// mu guards state only; handle operations run under io so a slow client never
// blocks readers of the playing state.
type Playback struct {
	mu sync.Mutex
	io sync.Mutex

	out  AudioOutput
	gate *InteractionGate
	log  *logrus.Entry

	onChange func()
	onError  func(Clip, error)

	owned      []*ownedHandle
	current    int
	aiSpeaking bool

	pending    []Clip
	registered bool
	closed     bool
}

func NewPlayback(out AudioOutput, gate *InteractionGate, log *logrus.Entry) *Playback {
	if gate == nil {
		gate = NewInteractionGate()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Playback{
		out:      out,
		gate:     gate,
		log:      log,
		current:  -1,
		onChange: func() {},
		onError:  func(Clip, error) {},
	}
}

// Gesture reports a user interaction to the shared gate. Queued clips start
// before it returns.
func (p *Playback) Gesture() {
	p.gate.Open()
}

// Play starts clip, or queues it until the interaction gate opens.
func (p *Playback) Play(clip Clip) error {
	const op = "Playback.Play"

	if clip.URL == "" {
		p.log.WithField("index", clip.Index).Warn("play requested for turn without audio")
		return utils.E(utils.CodePlayback, op, "turn has no audio", ErrNoAudio)
	}

	if !p.gate.Opened() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return utils.E(utils.CodePlayback, op, "playback closed", ErrClosed)
		}
		p.pending = append(p.pending, clip)
		register := !p.registered
		p.registered = true
		p.mu.Unlock()

		p.log.WithField("index", clip.Index).Debug("autoplay not yet allowed, clip deferred")
		if register {
			p.gate.OnOpen(p.drain)
		} else if p.gate.Opened() {
			// gate opened between the check and the append
			p.drain()
		}
		p.onChange()
		return nil
	}

	return p.start(clip)
}

func (p *Playback) drain() {
	p.mu.Lock()
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, clip := range queued {
		if err := p.start(clip); err != nil {
			p.log.WithError(err).WithField("index", clip.Index).Warn("deferred play failed")
		}
	}
}

func (p *Playback) start(clip Clip) error {
	const op = "Playback.start"

	p.io.Lock()
	defer p.io.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return utils.E(utils.CodePlayback, op, "playback closed", ErrClosed)
	}
	stale := p.takeAllLocked()
	p.mu.Unlock()
	p.stopHandles(stale)

	h, err := p.out.Open(clip.URL)
	if err != nil {
		p.onError(clip, err)
		p.onChange()
		return utils.E(utils.CodePlayback, op, "could not load audio", err)
	}

	owned := &ownedHandle{h: h, clip: clip}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseOwned(owned)
		return utils.E(utils.CodePlayback, op, "playback closed", ErrClosed)
	}
	p.owned = append(p.owned, owned)
	p.current = clip.Index
	p.aiSpeaking = clip.Sender == models.SenderAI
	p.mu.Unlock()

	if err := h.Play(func(err error) { p.finish(owned, err) }); err != nil {
		p.mu.Lock()
		removed := p.removeLocked(owned)
		p.mu.Unlock()
		if removed {
			p.releaseOwned(owned)
		}
		p.onError(clip, err)
		p.onChange()
		return utils.E(utils.CodePlayback, op, "could not play audio", err)
	}

	p.onChange()
	return nil
}

// finish handles natural end or failure of a handle still owned.
func (p *Playback) finish(owned *ownedHandle, err error) {
	p.mu.Lock()
	removed := p.removeLocked(owned)
	p.mu.Unlock()
	if !removed {
		// superseded or stopped; late callback
		return
	}
	p.releaseOwned(owned)

	if err != nil {
		p.onError(owned.clip, err)
	}
	p.onChange()
}

// removeLocked untracks owned and clears the playing state it held. The
// caller releases the handle after dropping mu.
func (p *Playback) removeLocked(owned *ownedHandle) bool {
	idx := -1
	for i, o := range p.owned {
		if o == owned {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	p.owned = append(p.owned[:idx], p.owned[idx+1:]...)

	if p.current == owned.clip.Index {
		p.current = -1
	}
	if owned.clip.Sender == models.SenderAI {
		p.aiSpeaking = false
	}
	return true
}

func (p *Playback) releaseOwned(o *ownedHandle) {
	if err := releaseHandle(o.h); err != nil {
		p.log.WithError(err).WithField("index", o.clip.Index).Warn("audio release failed")
	}
}

// StopAll stops and releases every owned handle and drops deferred clips.
// Calling it with nothing playing is a no-op.
func (p *Playback) StopAll() {
	p.io.Lock()
	defer p.io.Unlock()

	p.mu.Lock()
	if len(p.owned) == 0 && len(p.pending) == 0 && p.current < 0 && !p.aiSpeaking {
		p.mu.Unlock()
		return
	}
	p.pending = nil
	stale := p.takeAllLocked()
	p.mu.Unlock()

	p.stopHandles(stale)
	p.onChange()
}

// takeAllLocked untracks every handle and returns them for cleanup.
func (p *Playback) takeAllLocked() []*ownedHandle {
	stale := p.owned
	p.owned = nil
	p.current = -1
	p.aiSpeaking = false
	return stale
}

func (p *Playback) stopHandles(stale []*ownedHandle) {
	for _, o := range stale {
		if err := stopHandle(o.h); err != nil {
			p.log.WithError(err).WithField("index", o.clip.Index).Warn("audio cleanup failed")
		}
	}
}

// Close stops everything and refuses further playback.
func (p *Playback) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.StopAll()
}

func (p *Playback) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Playback) AISpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aiSpeaking
}

// AIQueued reports whether an AI clip is waiting for the interaction gate.
func (p *Playback) AIQueued() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.pending {
		if c.Sender == models.SenderAI {
			return true
		}
	}
	return false
}

// Owned is the number of tracked handles.
func (p *Playback) Owned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owned)
}

// Pending is the number of clips waiting for the interaction gate.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// stopHandle runs every cleanup step; a failing step does not skip the rest.
func stopHandle(h AudioHandle) error {
	return errors.Join(
		safely("pause", h.Pause),
		safely("reset", h.Reset),
		releaseHandle(h),
	)
}

func releaseHandle(h AudioHandle) error {
	return errors.Join(
		safely("detach", func() error { h.Detach(); return nil }),
		safely("release", h.Release),
	)
}

func safely(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	if e := fn(); e != nil {
		return fmt.Errorf("%s: %w", step, e)
	}
	return nil
}
