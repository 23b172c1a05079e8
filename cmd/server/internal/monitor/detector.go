// Package monitor detects stuck and abandoned pipeline state. It never
// mutates anything itself: findings are reported to an external recovery
// handler, which decides what to do about them.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/voxscribe/voxscribe/cmd/server/internal/models"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
)

// FindingKind classifies one consistency finding.
type FindingKind string

const (
	FindingStuckExecution    FindingKind = "stuck_execution"
	FindingStuckRecording    FindingKind = "stuck_recording"
	FindingOrphanedExecution FindingKind = "orphaned_execution"
	FindingAbandonedFile     FindingKind = "abandoned_file"
)

// Finding is one detected inconsistency.
type Finding struct {
	Kind        FindingKind   `json:"kind"`
	RecordingID string        `json:"recording_id,omitempty"`
	ExecutionID string        `json:"execution_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	Age         time.Duration `json:"age"`
	Reason      string        `json:"reason"`
}

// Rules holds the detection thresholds. A thing is stale only when it is
// STRICTLY older than its threshold; sitting exactly on the boundary is
// still healthy.
type Rules struct {
	// StaleAfter is how long an execution may go without a progress
	// update before it counts as stale.
	StaleAfter time.Duration
	// MaxTranscription caps the total runtime of transcription tasks.
	MaxTranscription time.Duration
	// MaxDefault caps the total runtime of all other task types.
	MaxDefault time.Duration
	// StuckRecordingAfter is the quiet window after which a processing
	// recording with no healthy execution counts as stuck.
	StuckRecordingAfter time.Duration
	// OrphanedAfter is the age past which a non-terminal execution counts
	// as orphaned regardless of progress updates.
	OrphanedAfter time.Duration
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{
		StaleAfter:          30 * time.Minute,
		MaxTranscription:    2 * time.Hour,
		MaxDefault:          30 * time.Minute,
		StuckRecordingAfter: 5 * time.Minute,
		OrphanedAfter:       24 * time.Hour,
	}
}

func (r Rules) maxFor(taskType models.TaskType) time.Duration {
	if taskType == models.TaskTranscription {
		return r.MaxTranscription
	}
	return r.MaxDefault
}

// Detector runs the consistency checks against the store.
type Detector struct {
	store *store.Store
	rules Rules
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(st *store.Store, rules Rules) *Detector {
	return &Detector{store: st, rules: rules}
}

// StuckExecutions finds non-terminal executions that have both gone stale
// (no progress update within StaleAfter) and exceeded their task type's
// maximum total runtime. An execution that is merely slow, or merely quiet
// within its runtime budget, is not stuck.
func (d *Detector) StuckExecutions(ctx context.Context, now time.Time) ([]Finding, error) {
	executions, err := d.store.NonTerminalExecutions(ctx)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for _, exec := range executions {
		quiet := now.Sub(exec.UpdatedAt)
		if quiet <= d.rules.StaleAfter {
			continue
		}
		limit := d.rules.maxFor(exec.TaskType)
		runtime := now.Sub(exec.CreatedAt)
		if runtime <= limit {
			continue
		}
		findings = append(findings, Finding{
			Kind:        FindingStuckExecution,
			RecordingID: exec.RecordingID,
			ExecutionID: exec.ID,
			Age:         quiet,
			Reason: fmt.Sprintf("no progress update for %s and %s task running for %s (limit %s)",
				quiet.Round(time.Second), exec.TaskType, runtime.Round(time.Second), limit),
		})
	}
	return findings, nil
}

// StuckRecordings finds processing recordings that have gone quiet: either
// no active execution exists at all, or every active execution is itself
// stale.
func (d *Detector) StuckRecordings(ctx context.Context, now time.Time) ([]Finding, error) {
	recordings, err := d.store.ProcessingRecordings(ctx)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for _, rec := range recordings {
		age := now.Sub(rec.LastUpdateAt)
		if age <= d.rules.StuckRecordingAfter {
			continue
		}

		active, err := d.store.ActiveExecutionForRecording(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case active == nil:
			findings = append(findings, Finding{
				Kind:        FindingStuckRecording,
				RecordingID: rec.ID,
				UserID:      rec.UserID,
				Age:         age,
				Reason:      "processing with no active execution",
			})
		case now.Sub(active.UpdatedAt) > d.rules.StaleAfter:
			findings = append(findings, Finding{
				Kind:        FindingStuckRecording,
				RecordingID: rec.ID,
				ExecutionID: active.ID,
				UserID:      rec.UserID,
				Age:         age,
				Reason:      "all active executions are stale",
			})
		}
	}
	return findings, nil
}

// OrphanedExecutions finds non-terminal executions created longer ago than
// the orphan threshold. These are runs whose worker is long gone; staleness
// has stopped being informative at that age.
func (d *Detector) OrphanedExecutions(ctx context.Context, now time.Time) ([]Finding, error) {
	executions, err := d.store.NonTerminalExecutions(ctx)
	if err != nil {
		return nil, err
	}
	var findings []Finding
	for _, exec := range executions {
		age := now.Sub(exec.CreatedAt)
		if age <= d.rules.OrphanedAfter {
			continue
		}
		findings = append(findings, Finding{
			Kind:        FindingOrphanedExecution,
			RecordingID: exec.RecordingID,
			ExecutionID: exec.ID,
			Age:         age,
			Reason:      fmt.Sprintf("non-terminal for more than %s", d.rules.OrphanedAfter),
		})
	}
	return findings, nil
}

// AbandonedFiles finds processing recordings older than the given age,
// optionally scoped to one user.
func (d *Detector) AbandonedFiles(ctx context.Context, now time.Time, olderThan time.Duration, userID string) ([]Finding, error) {
	recordings, err := d.store.ProcessingRecordingsOlderThan(ctx, now.Add(-olderThan), userID)
	if err != nil {
		return nil, err
	}
	findings := make([]Finding, 0, len(recordings))
	for _, rec := range recordings {
		findings = append(findings, Finding{
			Kind:        FindingAbandonedFile,
			RecordingID: rec.ID,
			UserID:      rec.UserID,
			Age:         now.Sub(rec.LastUpdateAt),
			Reason:      fmt.Sprintf("abandoned in processing for more than %s", olderThan),
		})
	}
	return findings, nil
}

// Scan runs every detector and returns the combined findings.
func (d *Detector) Scan(ctx context.Context, now time.Time) ([]Finding, error) {
	var all []Finding
	for _, detect := range []func(context.Context, time.Time) ([]Finding, error){
		d.StuckExecutions,
		d.StuckRecordings,
		d.OrphanedExecutions,
	} {
		findings, err := detect(ctx, now)
		if err != nil {
			return nil, err
		}
		all = append(all, findings...)
	}
	return all, nil
}
