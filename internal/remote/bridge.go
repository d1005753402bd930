// Package remote implements the microphone and audio output of a session on
// top of the client connected over websocket: captured audio arrives as
// binary frames, playback is commanded with JSON messages and acknowledged
// by the client.
package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/yoovoice/internal/voice"
)

var (
	ErrNoClient     = errors.New("no client attached")
	ErrMicDenied    = errors.New("microphone permission denied")
	ErrCaptureBusy  = errors.New("a capture is already open")
	ErrClipTooLarge = errors.New("recording exceeds maximum size")
	ErrDetached     = errors.New("client detached")
)

const defaultPermissionTimeout = 10 * time.Second

// Sender delivers one JSON control message to the client.
type Sender interface {
	SendJSON(v any) error
}

// Command is a server to client control message.
type Command struct {
	Type     string `json:"type"` // mic_open|mic_close|play|pause|rewind|release
	ClipID   string `json:"clip_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Request  string `json:"request_id,omitempty"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

// Bridge is the per-session microphone and audio output.
type Bridge struct {
	mu sync.Mutex

	client       Sender
	attached     bool // a client has attached at least once
	held         []Command
	maxClipBytes int
	permTimeout  time.Duration

	permission map[string]chan error
	capture    *capture
	handles    map[string]*handle
}

var (
	_ voice.Microphone  = (*Bridge)(nil)
	_ voice.AudioOutput = (*Bridge)(nil)
)

func NewBridge(maxClipBytes int) *Bridge {
	if maxClipBytes <= 0 {
		maxClipBytes = 10 << 20
	}
	return &Bridge{
		maxClipBytes: maxClipBytes,
		permTimeout:  defaultPermissionTimeout,
		permission:   map[string]chan error{},
		handles:      map[string]*handle{},
	}
}

// Attach binds the connected client, replacing any previous one. Playback
// commands issued before the first attach are delivered now, in order.
func (b *Bridge) Attach(s Sender) error {
	b.mu.Lock()
	b.client = s
	b.attached = true
	held := b.held
	b.held = nil
	b.mu.Unlock()

	for _, cmd := range held {
		if err := s.SendJSON(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Detach drops the client: pending permission requests fail, the active
// capture is poisoned and every playing handle reports an error.
func (b *Bridge) Detach() {
	b.mu.Lock()
	b.client = nil
	b.attached = true
	b.held = nil
	waiters := b.permission
	b.permission = map[string]chan error{}
	if b.capture != nil {
		b.capture.err = ErrDetached
	}
	var done []func(error)
	for id, h := range b.handles {
		if h.onDone != nil {
			done = append(done, h.onDone)
		}
		delete(b.handles, id)
	}
	b.mu.Unlock()

	for _, ch := range waiters {
		ch <- ErrDetached
	}
	for _, fn := range done {
		fn(ErrDetached)
	}
}

func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil
}

// Claimed reports whether a client has ever attached.
func (b *Bridge) Claimed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

func (b *Bridge) send(cmd Command) error {
	b.mu.Lock()
	client := b.client
	if client == nil && !b.attached && cmd.ClipID != "" {
		b.holdLocked(cmd)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	if client == nil {
		return ErrNoClient
	}
	return client.SendJSON(cmd)
}

// holdLocked queues a playback command until the first client attaches. A
// release cancels everything held for its clip.
func (b *Bridge) holdLocked(cmd Command) {
	if cmd.Type != "release" {
		b.held = append(b.held, cmd)
		return
	}
	kept := b.held[:0]
	for _, h := range b.held {
		if h.ClipID != cmd.ClipID {
			kept = append(kept, h)
		}
	}
	b.held = kept
}

// Held is the number of commands waiting for the first client.
func (b *Bridge) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.held)
}

// Acquire asks the client to open its microphone and waits for the answer.
func (b *Bridge) Acquire(ctx context.Context) (voice.Capture, error) {
	b.mu.Lock()
	if b.client == nil {
		b.mu.Unlock()
		return nil, ErrNoClient
	}
	if b.capture != nil {
		b.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	reqID := uuid.NewString()
	answer := make(chan error, 1)
	b.permission[reqID] = answer
	b.mu.Unlock()

	if err := b.send(Command{Type: "mic_open", Request: reqID, MaxBytes: b.maxClipBytes}); err != nil {
		b.dropPermission(reqID)
		return nil, err
	}

	timer := time.NewTimer(b.permTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-answer:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrMicDenied
	}
	b.dropPermission(reqID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, ErrDetached
	}
	if b.capture != nil {
		return nil, ErrCaptureBusy
	}
	c := &capture{bridge: b}
	b.capture = c
	return c, nil
}

func (b *Bridge) dropPermission(reqID string) {
	b.mu.Lock()
	delete(b.permission, reqID)
	b.mu.Unlock()
}

// MicAnswer resolves a pending permission request.
func (b *Bridge) MicAnswer(reqID string, granted bool) {
	b.mu.Lock()
	ch, ok := b.permission[reqID]
	delete(b.permission, reqID)
	b.mu.Unlock()
	if !ok {
		return
	}
	if granted {
		ch <- nil
	} else {
		ch <- ErrMicDenied
	}
}

// AudioFrame appends captured audio to the open capture, if any.
func (b *Bridge) AudioFrame(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.capture
	if c == nil || c.stopped || c.err != nil {
		return
	}
	if len(c.buf)+len(p) > b.maxClipBytes {
		c.err = ErrClipTooLarge
		return
	}
	c.buf = append(c.buf, p...)
}

// PlaybackEnded routes a natural-end acknowledgement to its handle.
func (b *Bridge) PlaybackEnded(clipID string) { b.complete(clipID, nil) }

// PlaybackFailed routes a client-side playback failure to its handle.
func (b *Bridge) PlaybackFailed(clipID, msg string) {
	if msg == "" {
		msg = "playback failed"
	}
	b.complete(clipID, errors.New(msg))
}

func (b *Bridge) complete(clipID string, err error) {
	b.mu.Lock()
	h, ok := b.handles[clipID]
	var fn func(error)
	if ok {
		fn = h.onDone
		h.onDone = nil
	}
	b.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Open registers a handle for src; nothing is sent until Play.
func (b *Bridge) Open(src string) (voice.AudioHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil && b.attached {
		return nil, ErrNoClient
	}
	h := &handle{id: uuid.NewString(), src: src, bridge: b}
	b.handles[h.id] = h
	return h, nil
}

type capture struct {
	bridge  *Bridge
	buf     []byte
	stopped bool
	closed  bool
	err     error
}

func (c *capture) Stop() ([]byte, error) {
	b := c.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	c.stopped = true
	if c.err != nil {
		return nil, c.err
	}
	clip := c.buf
	c.buf = nil
	return clip, nil
}

func (c *capture) Close() error {
	b := c.bridge
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return nil
	}
	c.closed = true
	c.buf = nil
	if b.capture == c {
		b.capture = nil
	}
	b.mu.Unlock()

	if err := b.send(Command{Type: "mic_close"}); err != nil && !errors.Is(err, ErrNoClient) {
		return err
	}
	return nil
}

type handle struct {
	id     string
	src    string
	bridge *Bridge
	onDone func(error)
}

func (h *handle) Play(onDone func(err error)) error {
	h.bridge.mu.Lock()
	h.onDone = onDone
	h.bridge.mu.Unlock()
	return h.bridge.send(Command{Type: "play", ClipID: h.id, URL: h.src})
}

func (h *handle) Pause() error {
	return h.ignoreDetached(h.bridge.send(Command{Type: "pause", ClipID: h.id}))
}

func (h *handle) Reset() error {
	return h.ignoreDetached(h.bridge.send(Command{Type: "rewind", ClipID: h.id}))
}

func (h *handle) Detach() {
	h.bridge.mu.Lock()
	h.onDone = nil
	h.bridge.mu.Unlock()
}

func (h *handle) Release() error {
	b := h.bridge
	b.mu.Lock()
	_, tracked := b.handles[h.id]
	delete(b.handles, h.id)
	b.mu.Unlock()
	if !tracked {
		return nil
	}
	return h.ignoreDetached(b.send(Command{Type: "release", ClipID: h.id}))
}

func (h *handle) ignoreDetached(err error) error {
	if errors.Is(err, ErrNoClient) {
		return nil
	}
	return err
}
