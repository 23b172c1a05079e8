package inference

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/voxscribe/voxscribe/cmd/server/internal/device"
)

// FakeEngines returns a deterministic in-process engine set. It backs tests
// and lets the server run end to end on hosts with no model backends
// installed.
func FakeEngines() Engines {
	return Engines{
		Loader:      &FakeLoader{},
		Transcriber: &FakeTranscriber{},
		Aligner:     &FakeAligner{},
		Diarizer:    &FakeDiarizer{},
		Embedder:    &FakeEmbedder{Dim: 8},
	}
}

// FakeLoader derives audio length from the file size so tests control the
// pipeline's input by writing files of chosen sizes. Zero-byte files decode
// to zero samples.
type FakeLoader struct {
	// Err, when set, is returned by every Load call.
	Err error
}

func (l *FakeLoader) Load(ctx context.Context, path string) (*Audio, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load media %s: %w", path, err)
	}
	// One byte stands in for one millisecond of audio.
	return &Audio{
		Path:        path,
		SampleCount: int(info.Size()) * 16,
		SampleRate:  16000,
	}, nil
}

// FakeTranscriber emits one segment per whole second of audio. A Script
// overrides the generated texts in order; an empty script entry yields a
// whitespace-only segment.
type FakeTranscriber struct {
	Script   []string
	Language string
	Err      error
}

func (t *FakeTranscriber) Transcribe(ctx context.Context, audio *Audio, profile device.Profile) (*Transcript, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang := t.Language
	if lang == "" {
		lang = "en"
	}
	seconds := int(audio.Duration())
	segments := make([]Segment, 0, seconds)
	for i := 0; i < seconds; i++ {
		text := fmt.Sprintf("segment %d", i)
		if i < len(t.Script) {
			text = t.Script[i]
		}
		segments = append(segments, Segment{Start: float64(i), End: float64(i + 1), Text: text})
	}
	return &Transcript{Segments: segments, Language: lang}, nil
}

// FakeAligner nudges each boundary inward by a fixed epsilon, preserving
// order and count.
type FakeAligner struct {
	Err error
}

func (a *FakeAligner) Align(ctx context.Context, audio *Audio, transcript *Transcript) (*Transcript, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	aligned := &Transcript{Language: transcript.Language, Segments: make([]Segment, len(transcript.Segments))}
	for i, seg := range transcript.Segments {
		seg.Start += 0.01
		seg.End -= 0.01
		aligned.Segments[i] = seg
	}
	return aligned, nil
}

// FakeDiarizer alternates two speakers on two-second turns over the audio.
type FakeDiarizer struct {
	Speakers int
	Err      error
}

func (d *FakeDiarizer) Diarize(ctx context.Context, audio *Audio) ([]Turn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	speakers := d.Speakers
	if speakers <= 0 {
		speakers = 2
	}
	var turns []Turn
	duration := audio.Duration()
	for start, i := 0.0, 0; start < duration; start, i = start+2, i+1 {
		end := math.Min(start+2, duration)
		turns = append(turns, Turn{
			Start:   start,
			End:     end,
			Speaker: fmt.Sprintf("SPEAKER_%02d", i%speakers),
		})
	}
	return turns, nil
}

// FakeEmbedder returns a deterministic Dim-length vector derived from the
// span position, so equal spans embed equally and distinct spans differ.
type FakeEmbedder struct {
	Dim int
	Err error
}

func (e *FakeEmbedder) Embed(ctx context.Context, audio *Audio, start, end float64) ([]float64, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float64, dim)
	seed := start*31 + end*7 + float64(len(strings.TrimSpace(audio.Path)))
	for i := range vec {
		vec[i] = math.Sin(seed + float64(i))
	}
	return vec, nil
}
