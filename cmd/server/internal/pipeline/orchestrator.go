// Package pipeline runs the transcription pipeline: a fixed linear sequence
// of model stages with monotonic progress, device memory barriers and
// cooperative cancellation between stages.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/voxscribe/voxscribe/cmd/server/internal/device"
	"github.com/voxscribe/voxscribe/cmd/server/internal/inference"
	"github.com/voxscribe/voxscribe/cmd/server/internal/metrics"
	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/notify"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
	"github.com/voxscribe/voxscribe/pkg/logger"
)

// Stage names in execution order.
const (
	StageAudioPrepare  = "audio_prepare"
	StageSpeechToText  = "speech_to_text"
	StageTemporalAlign = "temporal_align"
	StageDiarize       = "diarize"
	StageAssign        = "assign_speakers"
	StageEmbedAndMatch = "embed_and_match"
	StageIndex         = "index"
	StageFinalize      = "finalize"
)

// IdentityResolver is the speaker identity service the pipeline hands its
// results to. Implemented by the speakers package; faked in tests.
type IdentityResolver interface {
	// EmbedAndSuggest extracts voice embeddings for the recording's
	// speakers, indexes them and attaches identity suggestions.
	EmbedAndSuggest(ctx context.Context, rec *models.Recording, audio *inference.Audio,
		speakers []*models.Speaker, segments []*models.TranscriptSegment) error
	// PersistIndex flushes the user's embedding index to disk.
	PersistIndex(userID string) error
}

// Orchestrator schedules and runs pipeline executions. Concurrency is capped
// by a weighted semaphore; each execution runs its stages strictly in order
// on one worker goroutine.
type Orchestrator struct {
	store    *store.Store
	engines  inference.Engines
	devices  *device.Manager
	resolver IdentityResolver
	notifier notify.Notifier
	logger   *slog.Logger
	profile  device.Profile
	sem      *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. profile is the compute profile selected at
// startup and used unchanged for every execution.
func New(st *store.Store, engines inference.Engines, devices *device.Manager,
	resolver IdentityResolver, notifier notify.Notifier, profile device.Profile,
	maxConcurrent int, logger *slog.Logger) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		store:    st,
		engines:  engines,
		devices:  devices,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		profile:  profile,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start creates a new execution for the recording and schedules it. At most
// one non-terminal execution may exist per recording; a second start returns
// ErrExecutionActive.
func (o *Orchestrator) Start(ctx context.Context, recordingID string) (*models.Execution, error) {
	rec, err := o.store.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	active, err := o.store.ActiveExecutionForRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("recording %s already has execution %s: %w",
			recordingID, active.ID, ErrExecutionActive)
	}

	now := time.Now().UTC()
	exec := &models.Execution{
		ID:          uuid.NewString(),
		RecordingID: rec.ID,
		TaskType:    models.TaskTranscription,
		Status:      models.ExecutionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := o.store.SetActiveExecution(ctx, rec.ID, exec.ID); err != nil {
		return nil, err
	}
	if err := o.store.SetRecordingStatus(ctx, rec.ID, models.RecordingProcessing, ""); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[exec.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, exec.ID)
			o.mu.Unlock()
			cancel()
		}()

		if err := o.sem.Acquire(runCtx, 1); err != nil {
			o.fail(exec, rec, fmt.Errorf("waiting for worker: %w", err))
			return
		}
		defer o.sem.Release(1)

		metrics.ActiveExecutions.Inc()
		defer metrics.ActiveExecutions.Dec()

		if err := o.process(runCtx, exec, rec); err != nil {
			o.fail(exec, rec, err)
		}
	}()

	return exec, nil
}

// Cancel requests cooperative cancellation of a running execution. The
// execution stops at the next stage boundary. Returns false when the
// execution is not currently running.
func (o *Orchestrator) Cancel(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[executionID]
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels all running executions and waits for their workers to
// exit or the context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs the stage sequence. Any returned error is terminal for the
// execution.
func (o *Orchestrator) process(ctx context.Context, exec *models.Execution, rec *models.Recording) error {
	// audio_prepare
	o.advance(exec, rec, StageAudioPrepare, 0.10, "loading media")
	audio, err := o.engines.Loader.Load(ctx, rec.StoragePath)
	if err != nil {
		return fmt.Errorf("%s: %w", StageAudioPrepare, err)
	}
	if audio.SampleCount == 0 {
		return fmt.Errorf("%s: %w", StageAudioPrepare, ErrNoAudioContent)
	}
	if err := o.checkpoint(ctx); err != nil {
		return err
	}

	// speech_to_text
	o.advance(exec, rec, StageSpeechToText, 0.25, "recognizing speech")
	var transcript *inference.Transcript
	err = o.timed(exec, StageSpeechToText, func() error {
		transcript, err = o.engines.Transcriber.Transcribe(ctx, audio, o.profile)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageSpeechToText, err)
	}
	o.advance(exec, rec, StageSpeechToText, 0.40, "recognition complete")
	o.releaseDevice(ctx, exec, rec, 0.42)
	if err := o.checkpoint(ctx); err != nil {
		return err
	}

	// temporal_align
	o.advance(exec, rec, StageTemporalAlign, 0.50, "aligning segments")
	err = o.timed(exec, StageTemporalAlign, func() error {
		transcript, err = o.engines.Aligner.Align(ctx, audio, transcript)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageTemporalAlign, err)
	}
	o.advance(exec, rec, StageTemporalAlign, 0.55, "alignment complete")
	if err := o.checkpoint(ctx); err != nil {
		return err
	}

	// diarize
	o.advance(exec, rec, StageDiarize, 0.65, "separating speakers")
	var turns []inference.Turn
	err = o.timed(exec, StageDiarize, func() error {
		turns, err = o.engines.Diarizer.Diarize(ctx, audio)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageDiarize, err)
	}
	o.advance(exec, rec, StageDiarize, 0.68, "diarization complete")
	o.releaseDevice(ctx, exec, rec, 0.70)
	if err := o.checkpoint(ctx); err != nil {
		return err
	}

	// assign_speakers
	o.advance(exec, rec, StageAssign, 0.72, "attributing segments")
	assigned := assignSpeakers(transcript.Segments, turns)
	if err := validateContent(assigned); err != nil {
		return fmt.Errorf("%s: %w", StageAssign, err)
	}
	speakers, segments, err := o.materialize(ctx, rec, assigned)
	if err != nil {
		return fmt.Errorf("%s: %w", StageAssign, err)
	}
	o.advance(exec, rec, StageAssign, 0.75, "attribution complete")
	if err := o.checkpoint(ctx); err != nil {
		return err
	}

	// embed_and_match
	o.advance(exec, rec, StageEmbedAndMatch, 0.78, "matching voices")
	if err := o.resolver.EmbedAndSuggest(ctx, rec, audio, speakers, segments); err != nil {
		return fmt.Errorf("%s: %w", StageEmbedAndMatch, err)
	}
	o.advance(exec, rec, StageEmbedAndMatch, 0.82, "voice matching complete")
	o.releaseDevice(ctx, exec, rec, 0.83)
	if err := o.checkpoint(ctx); err != nil {
		return err
	}

	// index
	o.advance(exec, rec, StageIndex, 0.85, "updating voice index")
	if err := o.resolver.PersistIndex(rec.UserID); err != nil {
		// The index can be rebuilt; losing one flush is not terminal.
		o.logger.Warn("voice index persist failed",
			slog.String("user_id", rec.UserID), slog.String("error", err.Error()))
	}

	// finalize
	o.advance(exec, rec, StageFinalize, 0.95, "saving transcript")
	if err := o.store.ReplaceSegments(ctx, rec.ID, segments); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}
	if err := o.store.SetRecordingMetadata(ctx, rec.ID, audio.Duration(), transcript.Language); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}
	if _, err := o.store.PruneOrphanSpeakers(ctx, rec.ID); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}
	if err := o.store.SetRecordingStatus(ctx, rec.ID, models.RecordingCompleted, ""); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}
	if err := o.store.SetActiveExecution(ctx, rec.ID, ""); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}
	o.advance(exec, rec, StageFinalize, 1.0, "completed")
	if err := o.store.FinishExecution(ctx, exec.ID, models.ExecutionCompleted, "", ""); err != nil {
		return fmt.Errorf("%s: %w", StageFinalize, err)
	}
	metrics.RecordExecutionFinished(string(models.ExecutionCompleted), "")

	o.logger.Info("execution completed",
		slog.String("execution_id", exec.ID),
		slog.String("recording_id", rec.ID),
		slog.Int("segments", len(segments)),
		slog.Int("speakers", len(speakers)),
	)
	return nil
}

// materialize creates speaker rows for the distinct diarization labels and
// binds each segment to its speaker's row id. Nothing is persisted to the
// transcript yet; finalize owns that write.
func (o *Orchestrator) materialize(ctx context.Context, rec *models.Recording,
	assigned []inference.Segment) ([]*models.Speaker, []*models.TranscriptSegment, error) {

	byLabel := make(map[string]*models.Speaker)
	var speakers []*models.Speaker
	for _, label := range speakerLabels(assigned) {
		sp := &models.Speaker{
			ID:          uuid.NewString(),
			RecordingID: rec.ID,
			UserID:      rec.UserID,
			Label:       label,
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.store.CreateSpeaker(ctx, sp); err != nil {
			return nil, nil, err
		}
		byLabel[label] = sp
		speakers = append(speakers, sp)
	}

	segments := make([]*models.TranscriptSegment, 0, len(assigned))
	for _, seg := range assigned {
		ts := &models.TranscriptSegment{
			RecordingID: rec.ID,
			Start:       seg.Start,
			End:         seg.End,
			Text:        seg.Text,
		}
		if sp, ok := byLabel[seg.Speaker]; ok {
			ts.SpeakerID = sp.ID
		}
		segments = append(segments, ts)
	}
	return speakers, segments, nil
}

// validateContent rejects results with nothing usable in them.
func validateContent(segments []inference.Segment) error {
	if len(segments) == 0 {
		return ErrNoAudioContent
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) != "" {
			return nil
		}
	}
	return ErrNoSpeechContent
}

// advance persists stage progress and emits a notification. Progress only
// moves forward through the fixed ladder.
func (o *Orchestrator) advance(exec *models.Execution, rec *models.Recording, stage string, progress float64, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec.Stage = stage
	exec.Progress = progress
	if err := o.store.UpdateExecutionProgress(ctx, exec.ID, stage, progress); err != nil {
		o.logger.Warn("progress update failed",
			slog.String("execution_id", exec.ID), slog.String("error", err.Error()))
	}
	o.notifier.Notify(notify.Event{
		ExecutionID: exec.ID,
		RecordingID: rec.ID,
		Stage:       stage,
		Message:     message,
		Percent:     progress * 100,
	})
}

// releaseDevice runs the memory release barrier after a device stage. A
// failed release degrades to a warning; the pipeline keeps going.
func (o *Orchestrator) releaseDevice(ctx context.Context, exec *models.Execution, rec *models.Recording, progress float64) {
	if err := o.devices.Release(ctx); err != nil {
		o.logger.Warn("device memory release failed",
			slog.String("execution_id", exec.ID), slog.String("error", err.Error()))
		return
	}
	o.advance(exec, rec, exec.Stage, progress, "device memory released")
}

// checkpoint is the between-stage cancellation gate.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled between stages: %w", err)
	}
	return nil
}

// timed runs one stage body, recording its duration metric and the
// structured stage event.
func (o *Orchestrator) timed(exec *models.Execution, stage string, fn func() error) error {
	logger.LogPipelineStage(o.logger, stage, "start", exec.ID, 0, "")
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	metrics.RecordStageDuration(stage, elapsed.Seconds())
	if err != nil {
		logger.LogPipelineStage(o.logger, stage, "error", exec.ID, elapsed.Milliseconds(), string(Classify(err)))
	} else {
		logger.LogPipelineStage(o.logger, stage, "success", exec.ID, elapsed.Milliseconds(), "")
	}
	return err
}

// fail moves the execution and recording into their terminal failure states.
// Persistence runs on a fresh context so a cancelled run can still record
// its outcome.
func (o *Orchestrator) fail(exec *models.Execution, rec *models.Recording, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kind := Classify(cause)
	remediation := Remediation(kind)

	status := models.ExecutionFailed
	if kind == FailureCancelled {
		status = models.ExecutionCancelled
	}

	if err := o.store.FinishExecution(ctx, exec.ID, status, cause.Error(), string(kind)); err != nil {
		o.logger.Error("failed to record execution outcome",
			slog.String("execution_id", exec.ID), slog.String("error", err.Error()))
	}

	// A cancelled recording goes back to pending so it can be restarted;
	// everything else surfaces as an error carrying the raw cause. The
	// user-facing remediation text travels on the notification instead.
	if kind == FailureCancelled {
		if err := o.store.SetRecordingStatus(ctx, rec.ID, models.RecordingPending, ""); err != nil {
			o.logger.Error("failed to reset recording", slog.String("recording_id", rec.ID), slog.String("error", err.Error()))
		}
	} else {
		if err := o.store.SetRecordingStatus(ctx, rec.ID, models.RecordingError, cause.Error()); err != nil {
			o.logger.Error("failed to mark recording errored", slog.String("recording_id", rec.ID), slog.String("error", err.Error()))
		}
	}
	if err := o.store.SetActiveExecution(ctx, rec.ID, ""); err != nil {
		o.logger.Error("failed to clear active execution", slog.String("recording_id", rec.ID), slog.String("error", err.Error()))
	}
	// Speaker rows materialized mid-run have no segments yet; a run that
	// dies before finalize must not leave them behind.
	if _, err := o.store.PruneOrphanSpeakers(ctx, rec.ID); err != nil {
		o.logger.Error("failed to prune orphan speakers", slog.String("recording_id", rec.ID), slog.String("error", err.Error()))
	}

	metrics.RecordExecutionFinished(string(status), string(kind))
	o.notifier.Notify(notify.Event{
		ExecutionID: exec.ID,
		RecordingID: rec.ID,
		Stage:       exec.Stage,
		Message:     remediation,
		Percent:     exec.Progress * 100,
	})
	o.logger.Error("execution failed",
		slog.String("execution_id", exec.ID),
		slog.String("recording_id", rec.ID),
		slog.String("failure_kind", string(kind)),
		slog.String("error", cause.Error()),
	)
}
