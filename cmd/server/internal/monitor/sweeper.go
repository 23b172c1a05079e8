package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxscribe/voxscribe/cmd/server/internal/metrics"
)

// RecoveryHandler receives findings. Recovery itself lives outside the
// monitor; the default handler only logs.
type RecoveryHandler interface {
	Handle(ctx context.Context, finding Finding)
}

// LogRecovery logs each finding and does nothing else.
type LogRecovery struct {
	Logger *slog.Logger
}

func (h *LogRecovery) Handle(ctx context.Context, finding Finding) {
	h.Logger.Warn("consistency finding",
		slog.String("kind", string(finding.Kind)),
		slog.String("recording_id", finding.RecordingID),
		slog.String("execution_id", finding.ExecutionID),
		slog.Duration("age", finding.Age),
		slog.String("reason", finding.Reason),
	)
}

// Sweeper runs the detector on a fixed interval.
type Sweeper struct {
	detector *Detector
	handler  RecoveryHandler
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a periodic sweeper. Start must be called to begin
// sweeping.
func NewSweeper(detector *Detector, handler RecoveryHandler, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		detector: detector,
		handler:  handler,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.Info("consistency sweeper started", slog.Duration("interval", s.interval))
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep runs one detection pass, publishes metrics and hands every finding
// to the recovery handler. Detection errors are logged, not returned; the
// next tick retries.
func (s *Sweeper) Sweep(ctx context.Context) []Finding {
	now := time.Now().UTC()
	findings, err := s.detector.Scan(ctx, now)
	if err != nil {
		s.logger.Error("consistency scan failed", slog.String("error", err.Error()))
		return nil
	}

	for _, finding := range findings {
		metrics.RecordMonitorFinding(string(finding.Kind))
		s.handler.Handle(ctx, finding)
	}
	if len(findings) > 0 {
		s.logger.Info("consistency sweep finished", slog.Int("findings", len(findings)))
	}
	return findings
}
