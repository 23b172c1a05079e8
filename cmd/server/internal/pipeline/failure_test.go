package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"no audio sentinel", fmt.Errorf("audio_prepare: %w", ErrNoAudioContent), FailureNoAudioContent},
		{"no speech sentinel", fmt.Errorf("assign_speakers: %w", ErrNoSpeechContent), FailureNoSpeechContent},
		{"context cancelled", fmt.Errorf("stage: %w", context.Canceled), FailureCancelled},
		{"deadline exceeded", context.DeadlineExceeded, FailureCancelled},
		{"cudnn library missing", errors.New("Unable to load libcudnn_ops_infer.so.8"), FailureDriverIncompat},
		{"cuda out of memory", errors.New("CUDA error: out of memory"), FailureDeviceOOM},
		{"plain out of memory is internal", errors.New("out of memory"), FailureInternal},
		{"gated model 401", errors.New("request failed with status 401"), FailureGatedModelAccess},
		{"gated model 403", errors.New("HTTP 403 Forbidden"), FailureGatedModelAccess},
		{"anything else", errors.New("segmentation fault"), FailureInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRemediationCoversEveryKind(t *testing.T) {
	kinds := []FailureKind{
		FailureNoAudioContent, FailureNoSpeechContent, FailureGatedModelAccess,
		FailureDeviceOOM, FailureDriverIncompat, FailureCancelled, FailureInternal,
	}

	for _, kind := range kinds {
		assert.NotEmpty(t, Remediation(kind), "kind %s needs remediation text", kind)
	}
}
