package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/logger"
)

type fakeBackend struct {
	mu sync.Mutex

	newChat func(req interviewapi.NewChatRequest) (*interviewapi.NewChatResponse, error)
	stt     func(email string, clip []byte) (*interviewapi.Transcription, error)
	chat    func(req interviewapi.ChatRequest) (*interviewapi.ChatResponse, error)
	tts     func(req interviewapi.SpeechRequest) (*interviewapi.Speech, error)
	save    func(req interviewapi.ChatHistoryRequest) error

	newChatCalls int
	sttEmails    []string
	chatReqs     []interviewapi.ChatRequest
	ttsReqs      []interviewapi.SpeechRequest
	saved        []interviewapi.ChatHistoryRequest
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.newChat = func(interviewapi.NewChatRequest) (*interviewapi.NewChatResponse, error) {
		return &interviewapi.NewChatResponse{ThreadID: "thread-1", Response: "Hi, tell me about yourself."}, nil
	}
	b.stt = func(string, []byte) (*interviewapi.Transcription, error) {
		return &interviewapi.Transcription{Transcript: "I led a team of 5 engineers.", AudioURL: "https://audio/user.webm"}, nil
	}
	b.chat = func(interviewapi.ChatRequest) (*interviewapi.ChatResponse, error) {
		return &interviewapi.ChatResponse{Response: "What was the hardest part?"}, nil
	}
	n := 0
	b.tts = func(interviewapi.SpeechRequest) (*interviewapi.Speech, error) {
		n++
		return &interviewapi.Speech{AudioURL: fmt.Sprintf("https://audio/ai-%d.mp3", n), Duration: 2.5}, nil
	}
	b.save = func(interviewapi.ChatHistoryRequest) error { return nil }
	return b
}

func (b *fakeBackend) NewChat(_ context.Context, req interviewapi.NewChatRequest) (*interviewapi.NewChatResponse, error) {
	b.mu.Lock()
	b.newChatCalls++
	fn := b.newChat
	b.mu.Unlock()
	return fn(req)
}

func (b *fakeBackend) SpeechToText(_ context.Context, email string, clip []byte) (*interviewapi.Transcription, error) {
	b.mu.Lock()
	b.sttEmails = append(b.sttEmails, email)
	fn := b.stt
	b.mu.Unlock()
	return fn(email, clip)
}

func (b *fakeBackend) Chat(_ context.Context, req interviewapi.ChatRequest) (*interviewapi.ChatResponse, error) {
	b.mu.Lock()
	b.chatReqs = append(b.chatReqs, req)
	fn := b.chat
	b.mu.Unlock()
	return fn(req)
}

func (b *fakeBackend) TextToSpeech(_ context.Context, req interviewapi.SpeechRequest) (*interviewapi.Speech, error) {
	b.mu.Lock()
	b.ttsReqs = append(b.ttsReqs, req)
	fn := b.tts
	b.mu.Unlock()
	return fn(req)
}

func (b *fakeBackend) SaveChatHistory(_ context.Context, req interviewapi.ChatHistoryRequest) error {
	b.mu.Lock()
	b.saved = append(b.saved, req)
	fn := b.save
	b.mu.Unlock()
	return fn(req)
}

func (b *fakeBackend) savedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.saved)
}

type fakeCapture struct {
	mu      sync.Mutex
	clip    []byte
	stopErr error
	closes  int
}

func (c *fakeCapture) Stop() ([]byte, error) { return c.clip, c.stopErr }

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeMic struct {
	err      error
	captures []*fakeCapture
	clip     []byte
}

func (m *fakeMic) Acquire(context.Context) (Capture, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := &fakeCapture{clip: m.clip}
	m.captures = append(m.captures, c)
	return c, nil
}

type fakeDecoder struct {
	d   time.Duration
	err error
}

func (d fakeDecoder) Duration([]byte) (time.Duration, error) { return d.d, d.err }

// opLog records handle operations across handles, in order.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeHandle struct {
	mu  sync.Mutex
	src string
	log *opLog

	onDone   func(error)
	playing  bool
	detached bool
	released bool

	playErr    error
	pauseErr   error
	resetPanic bool
}

func (h *fakeHandle) Play(onDone func(error)) error {
	h.log.add("play " + h.src)
	if h.playErr != nil {
		return h.playErr
	}
	h.mu.Lock()
	h.onDone = onDone
	h.playing = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Pause() error {
	h.log.add("pause " + h.src)
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
	return h.pauseErr
}

func (h *fakeHandle) Reset() error {
	h.log.add("reset " + h.src)
	if h.resetPanic {
		panic("reset exploded")
	}
	return nil
}

func (h *fakeHandle) Detach() {
	h.log.add("detach " + h.src)
	h.mu.Lock()
	h.detached = true
	h.mu.Unlock()
}

func (h *fakeHandle) Release() error {
	h.log.add("release " + h.src)
	h.mu.Lock()
	h.released = true
	h.playing = false
	h.mu.Unlock()
	return nil
}

// end simulates the element finishing; a detached element stays silent.
func (h *fakeHandle) end(err error) {
	h.mu.Lock()
	fn := h.onDone
	detached := h.detached
	h.playing = false
	h.mu.Unlock()
	if fn != nil && !detached {
		fn(err)
	}
}

// forceEnd delivers the callback even after detach, like a racing event.
func (h *fakeHandle) forceEnd(err error) {
	h.mu.Lock()
	fn := h.onDone
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (h *fakeHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *fakeHandle) isPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

type fakeOutput struct {
	mu      sync.Mutex
	log     *opLog
	handles []*fakeHandle
	openErr error

	// configure is applied to each new handle
	configure func(h *fakeHandle)

	// when block is set, Open signals opening and waits for block to close
	opening chan struct{}
	block   chan struct{}
}

func newFakeOutput() *fakeOutput { return &fakeOutput{log: &opLog{}} }

func (o *fakeOutput) Open(src string) (AudioHandle, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	if o.block != nil {
		o.opening <- struct{}{}
		<-o.block
	}
	h := &fakeHandle{src: src, log: o.log}
	if o.configure != nil {
		o.configure(h)
	}
	o.mu.Lock()
	o.handles = append(o.handles, h)
	o.mu.Unlock()
	return h, nil
}

func (o *fakeOutput) handle(i int) *fakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.handles) {
		return nil
	}
	return o.handles[i]
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *fakeOutput) last() *fakeHandle { return o.handle(o.count() - 1) }

type fakeBeacon struct {
	mu   sync.Mutex
	sent []interviewapi.ChatHistoryRequest
}

func (b *fakeBeacon) Send(req interviewapi.ChatHistoryRequest) {
	b.mu.Lock()
	b.sent = append(b.sent, req)
	b.mu.Unlock()
}

func (b *fakeBeacon) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type recEvents struct {
	mu      sync.Mutex
	notices []Notice
	changes int

	onChange func()
}

func (e *recEvents) Notice(n Notice) {
	e.mu.Lock()
	e.notices = append(e.notices, n)
	e.mu.Unlock()
}

func (e *recEvents) Changed() {
	e.mu.Lock()
	e.changes++
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *recEvents) all() []Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Notice(nil), e.notices...)
}

func (e *recEvents) lastNotice() (Notice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.notices) == 0 {
		return Notice{}, false
	}
	return e.notices[len(e.notices)-1], true
}

type harness struct {
	ctrl    *Controller
	backend *fakeBackend
	mic     *fakeMic
	out     *fakeOutput
	gate    *InteractionGate
	beacon  *fakeBeacon
	events  *recEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: newFakeBackend(),
		mic:     &fakeMic{clip: []byte("RIFF....WAVE")},
		out:     newFakeOutput(),
		gate:    NewInteractionGate(),
		beacon:  &fakeBeacon{},
		events:  &recEvents{},
	}
	h.gate.Open()
	h.ctrl = New(h.deps())

	// every observable state keeps at most one turn in synthesis
	h.events.onChange = func() {
		pending := 0
		for _, m := range h.ctrl.Snapshot().Messages {
			if !m.IsReady {
				pending++
			}
		}
		if pending > 1 {
			t.Errorf("%d not-ready turns in transcript", pending)
		}
	}
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Backend:    h.backend,
		Microphone: h.mic,
		Decoder:    fakeDecoder{d: 3 * time.Second},
		Output:     h.out,
		Gate:       h.gate,
		Beacon:     h.beacon,
		Events:     h.events,
		Logger:     logger.Discard(),
	}
}

var testParams = Params{
	UserID:     "user-1",
	Email:      "candidate@example.com",
	ConfigName: "Behavioral Interview",
	ConfigID:   "cfg-1",
}

// started returns a harness whose welcome clip has finished playing.
func started(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background(), testParams); err != nil {
		t.Fatalf("start: %v", err)
	}
	if w := h.out.last(); w != nil {
		w.end(nil)
	}
	return h
}

// turn records one full user answer and AI reply.
func (h *harness) turn(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if last := h.out.last(); last != nil {
		last.end(nil)
	}
}

var errBoom = errors.New("boom")
