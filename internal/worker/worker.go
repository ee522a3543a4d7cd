package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gpu-mode/kernelboard/internal/notify"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"go.uber.org/zap"
)

const (
	defaultInterval         = 5 * time.Minute
	defaultStatementTimeout = 10 * time.Second
)

var (
	errMissingRankingSource = errors.New("worker: ranking source is required")
	errMissingSnapshots     = errors.New("worker: snapshot repository is required")
	errMissingComposer      = errors.New("worker: message composer is required")
	errMissingNotifier      = errors.New("worker: notifier is required to send notifications")
)

// RankingSource computes the current top-three standings of active leaderboards.
type RankingSource interface {
	ComputeActive(ctx context.Context) ([]rankings.RankedEntry, error)
}

// SnapshotRepository persists the standings observed by the previous cycle.
type SnapshotRepository interface {
	Load(ctx context.Context) ([]rankings.RankedEntry, error)
	Apply(ctx context.Context, current []rankings.RankedEntry, gone []int64) error
}

// MessageComposer renders change events into chat messages.
type MessageComposer interface {
	Compose(events []rankings.Event) ([]notify.Message, error)
}

// Notifier delivers composed messages.
type Notifier interface {
	Deliver(ctx context.Context, messages []notify.Message)
}

// Config describes the dependencies of a Worker.
type Config struct {
	Rankings  RankingSource
	Snapshots SnapshotRepository
	Composer  MessageComposer
	// Notifier may be nil when the worker never sends notifications.
	Notifier Notifier
	// NewCycleID issues the id that tags a cycle's log lines; defaults to UUIDv7.
	NewCycleID func() (string, error)
	// Interval separates the start of consecutive loop cycles; defaults to 5m.
	Interval time.Duration
	// StatementTimeout bounds each database call of a cycle; defaults to 10s.
	StatementTimeout time.Duration
	Logger           *zap.Logger
}

// CycleOptions selects what a single cycle does besides computing and persisting.
type CycleOptions struct {
	// Notify sends messages for detected changes.
	Notify bool
	// SeedIfEmpty suppresses notifications when no snapshot exists yet.
	SeedIfEmpty bool
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID  string
	Current  []rankings.RankedEntry
	Previous []rankings.RankedEntry
	Changes  rankings.ChangeSet
	Messages []notify.Message
	// Seeded reports that the cycle persisted standings without notifying because
	// there was no previous snapshot.
	Seeded bool
}

// Worker runs the compute, diff, notify and persist pipeline.
type Worker struct {
	rankings         RankingSource
	snapshots        SnapshotRepository
	composer         MessageComposer
	notifier         Notifier
	newCycleID       func() (string, error)
	interval         time.Duration
	statementTimeout time.Duration
	logger           *zap.Logger
}

// New validates cfg and builds a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Rankings == nil {
		return nil, errMissingRankingSource
	}
	if cfg.Snapshots == nil {
		return nil, errMissingSnapshots
	}
	if cfg.Composer == nil {
		return nil, errMissingComposer
	}
	newCycleID := cfg.NewCycleID
	if newCycleID == nil {
		newCycleID = newUUIDv7
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	statementTimeout := cfg.StatementTimeout
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		rankings:         cfg.Rankings,
		snapshots:        cfg.Snapshots,
		composer:         cfg.Composer,
		notifier:         cfg.Notifier,
		newCycleID:       newCycleID,
		interval:         interval,
		statementTimeout: statementTimeout,
		logger:           logger,
	}, nil
}

// RunCycle performs one full cycle: compute, diff, notify, then persist and prune in
// one transaction. Messages are delivered before the snapshot is written; a cycle
// that fails to persist re-announces the same changes next time.
func (w *Worker) RunCycle(ctx context.Context, options CycleOptions) (CycleReport, error) {
	if options.Notify && w.notifier == nil {
		return CycleReport{}, errMissingNotifier
	}
	report, err := w.observe(ctx)
	if err != nil {
		return report, err
	}
	logger := w.logger.With(zap.String("cycle_id", report.CycleID))

	report.Seeded = options.SeedIfEmpty && len(report.Previous) == 0
	if options.Notify && !report.Seeded && len(report.Changes.Events) > 0 {
		messages, err := w.composer.Compose(report.Changes.Events)
		if err != nil {
			return report, fmt.Errorf("worker: compose messages: %w", err)
		}
		report.Messages = messages
		w.notifier.Deliver(ctx, messages)
	}

	if err := w.withStatementTimeout(ctx, func(statementContext context.Context) error {
		return w.snapshots.Apply(statementContext, report.Current, report.Changes.Gone)
	}); err != nil {
		return report, fmt.Errorf("worker: persist snapshot: %w", err)
	}

	logger.Info("ranking cycle complete",
		zap.Int("entries", len(report.Current)),
		zap.Int("events", len(report.Changes.Events)),
		zap.Int("messages", len(report.Messages)),
		zap.Int("pruned_leaderboards", len(report.Changes.Gone)),
		zap.Bool("seeded", report.Seeded))
	return report, nil
}

// Preview computes what a cycle would do without persisting or notifying.
func (w *Worker) Preview(ctx context.Context) (CycleReport, error) {
	report, err := w.observe(ctx)
	if err != nil {
		return report, err
	}
	if len(report.Changes.Events) > 0 {
		messages, err := w.composer.Compose(report.Changes.Events)
		if err != nil {
			return report, fmt.Errorf("worker: compose messages: %w", err)
		}
		report.Messages = messages
	}
	return report, nil
}

// Run executes a cycle immediately and then every interval until ctx is cancelled.
// A failed cycle is logged and the loop continues.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ranking worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunCycle(ctx, CycleOptions{Notify: true, SeedIfEmpty: true}); err != nil && ctx.Err() == nil {
			w.logger.Error("ranking cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("ranking worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) observe(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	cycleID, err := w.newCycleID()
	if err != nil {
		return report, fmt.Errorf("worker: cycle id: %w", err)
	}
	report.CycleID = cycleID

	if err := w.withStatementTimeout(ctx, func(statementContext context.Context) error {
		previous, loadErr := w.snapshots.Load(statementContext)
		report.Previous = previous
		return loadErr
	}); err != nil {
		return report, fmt.Errorf("worker: load snapshot: %w", err)
	}

	if err := w.withStatementTimeout(ctx, func(statementContext context.Context) error {
		current, computeErr := w.rankings.ComputeActive(statementContext)
		report.Current = current
		return computeErr
	}); err != nil {
		return report, fmt.Errorf("worker: compute rankings: %w", err)
	}

	report.Changes = rankings.DetectChanges(report.Previous, report.Current)
	return report, nil
}

func (w *Worker) withStatementTimeout(ctx context.Context, call func(context.Context) error) error {
	statementContext, cancel := context.WithTimeout(ctx, w.statementTimeout)
	defer cancel()
	return call(statementContext)
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
