// Package inference defines the model stage contracts of the transcription
// pipeline. The orchestrator treats every engine as a black box: it supplies
// inputs, receives outputs, and owns device memory release between stages.
package inference

import (
	"context"

	"github.com/voxscribe/voxscribe/cmd/server/internal/device"
)

// Audio is decoded mono audio handed between stages.
type Audio struct {
	// Path is the source media file on local disk.
	Path string

	// SampleCount is the number of PCM samples after decoding.
	SampleCount int

	// SampleRate is the decode sample rate in Hz (16000 for all engines).
	SampleRate int
}

// Duration returns the audio length in seconds.
func (a Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(a.SampleCount) / float64(a.SampleRate)
}

// Segment is one recognized utterance. Start and End are seconds from the
// audio start. Speaker carries the diarization-local label once assigned.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the output of the recognition and alignment stages.
type Transcript struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Turn is one diarization interval attributed to a local speaker label.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// MediaLoader decodes a media file into mono PCM audio.
//
// Implementations must respect context cancellation and must report a
// decodable file with zero samples as valid Audio, not an error; the
// orchestrator classifies empty audio itself.
type MediaLoader interface {
	Load(ctx context.Context, path string) (*Audio, error)
}

// Transcriber converts audio to text segments.
//
// An empty result is valid output: silence produces zero segments. Engines
// wrap backend errors with context so the orchestrator can classify them.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *Audio, profile device.Profile) (*Transcript, error)
}

// Aligner refines segment boundaries against the audio. The segment count is
// preserved; only timings change.
type Aligner interface {
	Align(ctx context.Context, audio *Audio, transcript *Transcript) (*Transcript, error)
}

// Diarizer splits audio into speaker turns with machine-generated labels
// ("SPEAKER_00", "SPEAKER_01", ...). Labels are local to one run and carry
// no cross-recording meaning.
type Diarizer interface {
	Diarize(ctx context.Context, audio *Audio) ([]Turn, error)
}

// Embedder produces a fixed-dimension voice embedding for one audio span.
type Embedder interface {
	Embed(ctx context.Context, audio *Audio, start, end float64) ([]float64, error)
}

// Engines bundles every model stage the orchestrator needs.
type Engines struct {
	Loader      MediaLoader
	Transcriber Transcriber
	Aligner     Aligner
	Diarizer    Diarizer
	Embedder    Embedder
}
