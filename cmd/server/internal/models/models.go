// Package models defines the persistent data contracts of the transcription
// core: recordings, pipeline executions, transcript segments, speakers and
// speaker profiles. All schemas are fixed and strongly typed.
package models

import "time"

// RecordingStatus is the lifecycle state of a media recording.
type RecordingStatus string

const (
	RecordingPending    RecordingStatus = "pending"
	RecordingProcessing RecordingStatus = "processing"
	RecordingCompleted  RecordingStatus = "completed"
	RecordingError      RecordingStatus = "error"
)

// ExecutionStatus is the lifecycle state of one pipeline run.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// TaskType distinguishes execution kinds for the monitor's per-type
// maximum-duration policy.
type TaskType string

const (
	TaskTranscription TaskType = "transcription"
	TaskDefault       TaskType = "default"
)

// Recording represents one uploaded media item requiring transcription.
// Status is mutated only by the orchestrator and by external recovery acting
// on monitor findings.
type Recording struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Filename         string          `json:"filename"`
	StoragePath      string          `json:"storage_path"`
	Status           RecordingStatus `json:"status"`
	Duration         float64         `json:"duration"`
	Language         string          `json:"language"`
	ActiveExecution  string          `json:"active_execution,omitempty"`
	LastErrorMessage string          `json:"last_error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	LastUpdateAt     time.Time       `json:"last_update_at"`
}

// Execution represents one pipeline run for one recording. At most one
// non-terminal execution may exist per recording at any time.
type Execution struct {
	ID           string          `json:"id"`
	RecordingID  string          `json:"recording_id"`
	TaskType     TaskType        `json:"task_type"`
	Status       ExecutionStatus `json:"status"`
	Stage        string          `json:"stage,omitempty"`
	Progress     float64         `json:"progress"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FailureKind  string          `json:"failure_kind,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TranscriptSegment is one utterance of the transcript. SpeakerID is nullable
// only transiently while the assignment stage runs.
type TranscriptSegment struct {
	ID          int64   `json:"id"`
	RecordingID string  `json:"recording_id"`
	SpeakerID   string  `json:"speaker_id,omitempty"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
}

// Speaker is a diarization-local voice identity scoped to one recording.
// Label is the machine-generated diarization label (e.g. "SPEAKER_00");
// DisplayName is set by the user or by retroactive matching.
type Speaker struct {
	ID            string    `json:"id"`
	RecordingID   string    `json:"recording_id"`
	UserID        string    `json:"user_id"`
	Label         string    `json:"label"`
	DisplayName   string    `json:"display_name,omitempty"`
	Verified      bool      `json:"verified"`
	SuggestedName string    `json:"suggested_name,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	ProfileID     string    `json:"profile_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SpeakerProfile is a persistent cross-recording identity owned by one user.
// Its consolidated embedding is the mean of all current members' stored
// embeddings and lives in the similarity index, not in the relational store.
type SpeakerProfile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
