package voice

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, samples int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return b
}

func TestWAVDecoderDuration(t *testing.T) {
	clip := writeTestWAV(t, 16000)

	d, err := WAVDecoder{}.Duration(clip)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if diff := d - time.Second; diff < -10*time.Millisecond || diff > 10*time.Millisecond {
		t.Fatalf("duration = %v, want ~1s", d)
	}
}

func TestWAVDecoderRejectsGarbage(t *testing.T) {
	_, err := WAVDecoder{}.Duration([]byte("definitely not audio"))
	if !errors.Is(err, errUnsupportedClip) {
		t.Fatalf("err = %v, want errUnsupportedClip", err)
	}
}
