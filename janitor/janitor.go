// Package janitor runs the periodic maintenance sweeps: sessions stuck
// in processing are failed so no session stays claimed forever, finished
// run streams age out of the broker, and abandoned scratch directories
// are removed.
package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/progress"
)

// scratchPrefix matches the per-run directories the runner creates.
const scratchPrefix = "applyforge-run-"

// Options configures the Janitor.
type Options struct {
	// Interval between sweeps. Defaults to 5 minutes.
	Interval time.Duration

	// StaleAfter is how long a session may sit in processing without an
	// update before its run counts as abandoned. Defaults to 30 minutes.
	StaleAfter time.Duration

	// RunRetention is how long finished run streams stay replayable on
	// the broker. Defaults to 1 hour.
	RunRetention time.Duration

	// Broker to prune; nil skips run pruning.
	Broker *progress.Broker

	// ScratchRoot is the directory holding per-run scratch dirs; empty
	// skips scratch pruning.
	ScratchRoot string

	// ScratchMaxAge is how old a scratch dir must be before removal.
	// Defaults to StaleAfter.
	ScratchMaxAge time.Duration

	// Logger receives sweep reports; defaults to NoOpLogger.
	Logger logging.Logger
}

// Janitor owns the gocron scheduler driving the sweeps. A single Sweep
// pass is also callable directly for one-shot maintenance.
type Janitor struct {
	sessions core.StaleSessionStore
	broker   *progress.Broker

	interval      time.Duration
	staleAfter    time.Duration
	runRetention  time.Duration
	scratchRoot   string
	scratchMaxAge time.Duration
	logger        logging.Logger

	scheduler gocron.Scheduler
}

// New creates a Janitor sweeping sessions from the given store.
func New(sessions core.StaleSessionStore, optFns ...func(o *Options)) (*Janitor, error) {
	opts := Options{
		Interval:     5 * time.Minute,
		StaleAfter:   30 * time.Minute,
		RunRetention: time.Hour,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.ScratchMaxAge <= 0 {
		opts.ScratchMaxAge = opts.StaleAfter
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	j := &Janitor{
		sessions:      sessions,
		broker:        opts.Broker,
		interval:      opts.Interval,
		staleAfter:    opts.StaleAfter,
		runRetention:  opts.RunRetention,
		scratchRoot:   opts.ScratchRoot,
		scratchMaxAge: opts.ScratchMaxAge,
		logger:        opts.Logger,
		scheduler:     scheduler,
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.runScheduledSweep),
		gocron.WithName("applyforge-sweep"),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule sweep job: %w", err)
	}

	return j, nil
}

// Start begins the periodic sweeps.
func (j *Janitor) Start() {
	j.logger.Info("janitor started, sweeping every %s", j.interval)
	j.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (j *Janitor) Stop() error {
	j.logger.Info("janitor stopping")
	return j.scheduler.Shutdown()
}

// SweepReport summarizes one maintenance pass.
type SweepReport struct {
	StaleSessions int
	PrunedRuns    int
	ScratchDirs   int
}

// Total returns the number of items the pass acted on.
func (r SweepReport) Total() int {
	return r.StaleSessions + r.PrunedRuns + r.ScratchDirs
}

func (j *Janitor) runScheduledSweep() {
	report := j.Sweep(context.Background())
	if report.Total() > 0 {
		j.logger.Info("sweep: failed %d stale sessions, pruned %d runs, removed %d scratch dirs",
			report.StaleSessions, report.PrunedRuns, report.ScratchDirs)
	}
}

// Sweep performs one maintenance pass and reports what it acted on.
func (j *Janitor) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	report.StaleSessions = j.sweepSessions(ctx)
	if j.broker != nil {
		report.PrunedRuns = j.broker.Prune(j.runRetention)
	}
	if j.scratchRoot != "" {
		report.ScratchDirs = j.sweepScratch()
	}
	return report
}

// sweepSessions fails sessions whose run stopped making progress. The
// crashed run can no longer finish them itself, so the janitor finishes
// on its behalf and leaves an error line in the session log.
func (j *Janitor) sweepSessions(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-j.staleAfter)

	stale, err := j.sessions.ListStale(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to list stale sessions: %v", err)
		return 0
	}

	var swept int
	for _, sess := range stale {
		if err := j.sessions.Finish(ctx, sess.ID, sess.ActiveRun, core.StateFailed, nil); err != nil {
			j.logger.Warn("failed to fail stale session %s: %v", sess.ID, err)
			continue
		}

		line := core.LogLine{
			RunID:     sess.ActiveRun,
			Seq:       nextRunSeq(sess.Log, sess.ActiveRun),
			Severity:  core.SeverityError,
			Message:   fmt.Sprintf("Run abandoned, no progress for %s, session failed", j.staleAfter),
			Timestamp: time.Now().UTC(),
		}
		if err := j.sessions.AppendLog(ctx, sess.ID, line); err != nil {
			j.logger.Warn("failed to record the sweep on session %s: %v", sess.ID, err)
		}

		j.logger.Warn("failed stale session %s (run %s, last update %s)", sess.ID, sess.ActiveRun, sess.Updated.Format(time.RFC3339))
		swept++
	}

	return swept
}

// nextRunSeq continues the abandoned run's log sequence.
func nextRunSeq(log []core.LogLine, runID string) int64 {
	var max int64
	for _, line := range log {
		if line.RunID == runID && line.Seq > max {
			max = line.Seq
		}
	}
	return max + 1
}

// sweepScratch removes per-run scratch directories older than the age
// limit. Only directories carrying the runner's prefix are touched.
func (j *Janitor) sweepScratch() int {
	cutoff := time.Now().Add(-j.scratchMaxAge)

	entries, err := os.ReadDir(j.scratchRoot)
	if err != nil {
		j.logger.Warn("failed to read scratch root %s: %v", j.scratchRoot, err)
		return 0
	}

	var removed int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.scratchRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("failed to remove scratch dir %s: %v", path, err)
			continue
		}
		removed++
	}

	return removed
}
