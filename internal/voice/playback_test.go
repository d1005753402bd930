package voice

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/logger"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

type playbackFixture struct {
	p    *Playback
	out  *fakeOutput
	gate *InteractionGate

	mu      sync.Mutex
	changes int
	errs    []error
}

func newPlaybackFixture(open bool) *playbackFixture {
	f := &playbackFixture{out: newFakeOutput(), gate: NewInteractionGate()}
	if open {
		f.gate.Open()
	}
	f.p = NewPlayback(f.out, f.gate, logrus.NewEntry(logger.Discard()))
	f.p.onChange = func() {
		f.mu.Lock()
		f.changes++
		f.mu.Unlock()
	}
	f.p.onError = func(_ Clip, err error) {
		f.mu.Lock()
		f.errs = append(f.errs, err)
		f.mu.Unlock()
	}
	return f
}

func (f *playbackFixture) changeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes
}

func (f *playbackFixture) errCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func aiClip(i int, url string) Clip   { return Clip{Index: i, URL: url, Sender: models.SenderAI} }
func userClip(i int, url string) Clip { return Clip{Index: i, URL: url, Sender: models.SenderUser} }

func TestPlayStopsPreviousBeforeNext(t *testing.T) {
	f := newPlaybackFixture(true)

	if err := f.p.Play(aiClip(0, "a")); err != nil {
		t.Fatalf("play a: %v", err)
	}
	if err := f.p.Play(aiClip(2, "b")); err != nil {
		t.Fatalf("play b: %v", err)
	}

	want := []string{"play a", "pause a", "reset a", "detach a", "release a", "play b"}
	if got := f.out.log.all(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if f.p.Owned() != 1 || f.p.Current() != 2 || !f.p.AISpeaking() {
		t.Fatalf("owned=%d current=%d ai=%v", f.p.Owned(), f.p.Current(), f.p.AISpeaking())
	}
}

func TestLateCallbackIsIgnored(t *testing.T) {
	f := newPlaybackFixture(true)
	_ = f.p.Play(aiClip(0, "a"))
	_ = f.p.Play(userClip(1, "b"))
	a, b := f.out.handle(0), f.out.handle(1)

	before := f.changeCount()
	a.forceEnd(errBoom)

	if f.p.Current() != 1 || f.p.Owned() != 1 || !b.isPlaying() {
		t.Fatalf("late callback changed state: current=%d owned=%d", f.p.Current(), f.p.Owned())
	}
	if f.errCount() != 0 || f.changeCount() != before {
		t.Fatal("late callback reported")
	}
}

func TestNaturalEndClearsState(t *testing.T) {
	f := newPlaybackFixture(true)
	_ = f.p.Play(aiClip(0, "a"))
	h := f.out.handle(0)

	h.end(nil)

	if f.p.Current() != -1 || f.p.AISpeaking() || f.p.Owned() != 0 {
		t.Fatalf("current=%d ai=%v owned=%d", f.p.Current(), f.p.AISpeaking(), f.p.Owned())
	}
	if !h.isReleased() {
		t.Fatal("handle not released after natural end")
	}
	if f.errCount() != 0 {
		t.Fatal("natural end reported as error")
	}
}

func TestPlaybackErrorClearsState(t *testing.T) {
	f := newPlaybackFixture(true)
	_ = f.p.Play(aiClip(0, "a"))

	f.out.handle(0).end(errBoom)

	if f.errCount() != 1 {
		t.Fatalf("errors = %d, want 1", f.errCount())
	}
	if f.p.AISpeaking() || f.p.Current() != -1 {
		t.Fatal("state not cleared after error")
	}
}

func TestOpenAndPlayFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		f := newPlaybackFixture(true)
		f.out.openErr = errBoom
		err := f.p.Play(aiClip(0, "a"))
		if !utils.IsCode(err, utils.CodePlayback) || !errors.Is(err, errBoom) {
			t.Fatalf("err = %v", err)
		}
		if f.errCount() != 1 || f.p.AISpeaking() {
			t.Fatal("open failure not reported")
		}
	})

	t.Run("play", func(t *testing.T) {
		f := newPlaybackFixture(true)
		f.out.configure = func(h *fakeHandle) { h.playErr = errBoom }
		err := f.p.Play(aiClip(0, "a"))
		if !utils.IsCode(err, utils.CodePlayback) {
			t.Fatalf("err = %v", err)
		}
		if f.p.Owned() != 0 || !f.out.handle(0).isReleased() || f.p.AISpeaking() {
			t.Fatal("failed handle still owned")
		}
	})
}

func TestDeferredUntilGesture(t *testing.T) {
	f := newPlaybackFixture(false)

	if err := f.p.Play(aiClip(0, "a")); err != nil {
		t.Fatalf("play a: %v", err)
	}
	if err := f.p.Play(aiClip(2, "b")); err != nil {
		t.Fatalf("play b: %v", err)
	}
	if f.out.count() != 0 || f.p.Pending() != 2 {
		t.Fatalf("opened=%d pending=%d before gesture", f.out.count(), f.p.Pending())
	}

	f.gate.Open()

	if f.p.Pending() != 0 {
		t.Fatal("queue not drained")
	}
	ops := f.out.log.all()
	if len(ops) == 0 || ops[0] != "play a" || ops[len(ops)-1] != "play b" {
		t.Fatalf("ops = %v, want a then b", ops)
	}
	if f.p.Current() != 2 || f.p.Owned() != 1 {
		t.Fatalf("current=%d owned=%d", f.p.Current(), f.p.Owned())
	}
}

func TestStopAllDropsDeferred(t *testing.T) {
	f := newPlaybackFixture(false)
	_ = f.p.Play(aiClip(0, "a"))

	f.p.StopAll()
	f.gate.Open()

	if f.out.count() != 0 {
		t.Fatal("dropped clip played after gesture")
	}
}

func TestCleanupStepsAreIsolated(t *testing.T) {
	f := newPlaybackFixture(true)
	f.out.configure = func(h *fakeHandle) {
		h.pauseErr = errBoom
		h.resetPanic = true
	}
	_ = f.p.Play(aiClip(0, "a"))
	if err := f.p.Play(aiClip(1, "b")); err != nil {
		t.Fatalf("play b: %v", err)
	}

	a := f.out.handle(0)
	if !a.isReleased() {
		t.Fatal("release skipped after failing pause and reset")
	}
	want := []string{"play a", "pause a", "reset a", "detach a", "release a", "play b"}
	if got := f.out.log.all(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
}

func TestStopAllIsIdempotent(t *testing.T) {
	f := newPlaybackFixture(true)

	f.p.StopAll()
	if f.changeCount() != 0 {
		t.Fatal("stop with nothing playing signalled a change")
	}

	_ = f.p.Play(aiClip(0, "a"))
	f.p.StopAll()
	f.p.StopAll()

	if f.p.Owned() != 0 || f.p.Current() != -1 || f.p.AISpeaking() {
		t.Fatal("state not cleared by stop")
	}
	if got := f.out.log.all(); len(got) != 5 {
		t.Fatalf("ops = %v, want one play and one cleanup", got)
	}
}

// TestStateReadableWhileClipLoads verifies that a slow Open does not block
// readers of the playing state.
func TestStateReadableWhileClipLoads(t *testing.T) {
	f := newPlaybackFixture(true)
	f.out.opening = make(chan struct{}, 1)
	f.out.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.p.Play(aiClip(0, "a")) }()
	<-f.out.opening

	read := make(chan struct{})
	go func() {
		_ = f.p.AISpeaking()
		_ = f.p.Current()
		_ = f.p.Pending()
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(2 * time.Second):
		t.Fatal("state readers blocked behind a loading clip")
	}

	close(f.out.block)
	if err := <-done; err != nil {
		t.Fatalf("play: %v", err)
	}
	if f.p.Current() != 0 || !f.p.AISpeaking() || f.p.Owned() != 1 {
		t.Fatalf("current=%d ai=%v owned=%d", f.p.Current(), f.p.AISpeaking(), f.p.Owned())
	}
}

func TestCloseDuringLoadReleasesHandle(t *testing.T) {
	f := newPlaybackFixture(true)
	f.out.opening = make(chan struct{}, 1)
	f.out.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.p.Play(aiClip(0, "a")) }()
	<-f.out.opening

	closed := make(chan struct{})
	go func() {
		f.p.Close()
		close(closed)
	}()
	close(f.out.block)

	<-closed
	<-done
	if f.p.Owned() != 0 || f.p.AISpeaking() {
		t.Fatalf("owned=%d ai=%v after close", f.p.Owned(), f.p.AISpeaking())
	}
	if h := f.out.handle(0); h == nil || !h.isReleased() {
		t.Fatal("handle loaded during close was not released")
	}
}

func TestPlayWithoutAudio(t *testing.T) {
	f := newPlaybackFixture(true)
	err := f.p.Play(aiClip(0, ""))
	if !errors.Is(err, ErrNoAudio) || !utils.IsCode(err, utils.CodePlayback) {
		t.Fatalf("err = %v", err)
	}
	if f.out.count() != 0 {
		t.Fatal("handle opened for empty locator")
	}
}

func TestClosedPlaybackRefuses(t *testing.T) {
	f := newPlaybackFixture(true)
	_ = f.p.Play(aiClip(0, "a"))
	f.p.Close()

	if !f.out.handle(0).isReleased() {
		t.Fatal("close did not release")
	}
	if err := f.p.Play(aiClip(1, "b")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}

	g := newPlaybackFixture(false)
	g.p.Close()
	if err := g.p.Play(aiClip(0, "a")); !errors.Is(err, ErrClosed) {
		t.Fatalf("deferred play after close: %v", err)
	}
}

// TestExclusivePlaybackUnderRandomOps drives random play, end and stop
// sequences and checks that no two handles ever play at once.
func TestExclusivePlaybackUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := newPlaybackFixture(true)
	urls := []string{"a", "b", "c", "d"}

	for step := 0; step < 500; step++ {
		switch rng.Intn(4) {
		case 0, 1:
			i := rng.Intn(len(urls))
			clip := aiClip(i, urls[i])
			if rng.Intn(2) == 0 {
				clip.Sender = models.SenderUser
			}
			if err := f.p.Play(clip); err != nil {
				t.Fatalf("step %d: play: %v", step, err)
			}
		case 2:
			if n := f.out.count(); n > 0 {
				f.out.handle(rng.Intn(n)).forceEnd(nil)
			}
		case 3:
			f.p.StopAll()
		}

		playing := 0
		for i := 0; i < f.out.count(); i++ {
			if f.out.handle(i).isPlaying() {
				playing++
			}
		}
		if playing > 1 {
			t.Fatalf("step %d: %d handles playing", step, playing)
		}
		if f.p.Owned() > 1 {
			t.Fatalf("step %d: %d handles owned", step, f.p.Owned())
		}
		if f.p.Owned() == 0 && (f.p.Current() != -1 || f.p.AISpeaking()) {
			t.Fatalf("step %d: stale playing state", step)
		}
	}
}
