package media

import (
	"context"
	"time"
)

// AudioInfo is what ffprobe reports about the first audio stream.
type AudioInfo struct {
	Codec      string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Converter prepares downloaded episode audio for the speech tools.
type Converter interface {
	Probe(ctx context.Context, path string) (AudioInfo, error)
	ToWAV(ctx context.Context, src string) (string, error)
}

// Whisper.cpp reads 16 kHz mono PCM.
const (
	WhisperSampleRate = 16000
	WhisperChannels   = 1
)

// ReadyForWhisper reports whether the audio can be passed through unchanged.
func (i AudioInfo) ReadyForWhisper() bool {
	return i.Codec == "pcm_s16le" && i.SampleRate == WhisperSampleRate && i.Channels == WhisperChannels
}
