package voice

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

var errUnsupportedClip = errors.New("clip is not a valid wav file")

// WAVDecoder measures captured WAV clips.
type WAVDecoder struct{}

func (WAVDecoder) Duration(clip []byte) (time.Duration, error) {
	d := wav.NewDecoder(bytes.NewReader(clip))
	if !d.IsValidFile() {
		return 0, errUnsupportedClip
	}
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("seek pcm: %w", err)
	}

	bytesPerSec := int64(d.SampleRate) * int64(d.NumChans) * int64(d.BitDepth) / 8
	if bytesPerSec <= 0 {
		return 0, errUnsupportedClip
	}
	if d.PCMSize <= 0 {
		return 0, ErrEmptyRecording
	}
	return time.Duration(float64(d.PCMSize) / float64(bytesPerSec) * float64(time.Second)), nil
}
