package pipeline

import (
	"context"
	"errors"
	"strings"
)

// FailureKind is the closed classification of terminal execution errors.
// The raw error message is persisted alongside; the kind drives the
// user-facing remediation text.
type FailureKind string

const (
	FailureNoAudioContent   FailureKind = "no_audio_content"
	FailureNoSpeechContent  FailureKind = "no_speech_content"
	FailureGatedModelAccess FailureKind = "gated_model_access"
	FailureDeviceOOM        FailureKind = "device_out_of_memory"
	FailureDriverIncompat   FailureKind = "driver_incompatibility"
	FailureCancelled        FailureKind = "cancelled"
	FailureInternal         FailureKind = "internal"
)

var (
	// ErrNoAudioContent marks input that decodes to zero audio samples.
	ErrNoAudioContent = errors.New("NO_AUDIO_CONTENT")
	// ErrNoSpeechContent marks audio in which recognition found no words.
	ErrNoSpeechContent = errors.New("NO_SPEECH_CONTENT")
	// ErrExecutionActive rejects a start while another run is active.
	ErrExecutionActive = errors.New("EXECUTION_ACTIVE")
)

// Classify maps a stage error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrNoAudioContent):
		return FailureNoAudioContent
	case errors.Is(err, ErrNoSpeechContent):
		return FailureNoSpeechContent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "libcudnn"):
		return FailureDriverIncompat
	case strings.Contains(msg, "cuda") && strings.Contains(msg, "out of memory"):
		return FailureDeviceOOM
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return FailureGatedModelAccess
	}
	return FailureInternal
}

// Remediation returns the user-facing guidance for a failure kind. The raw
// technical message stays in the execution record for diagnostics.
func Remediation(kind FailureKind) string {
	switch kind {
	case FailureNoAudioContent:
		return "The file contains no decodable audio. Check that the upload is a valid media file."
	case FailureNoSpeechContent:
		return "No speech was detected in the audio."
	case FailureGatedModelAccess:
		return "Access to a required model was denied. Accept the model's terms of use and configure a valid access token."
	case FailureDeviceOOM:
		return "The compute device ran out of memory while processing this file. Try a shorter file."
	case FailureDriverIncompat:
		return "A device driver incompatibility was detected. Please contact support."
	case FailureCancelled:
		return "Processing was cancelled."
	default:
		return "Processing failed due to an internal error. Please try again."
	}
}
