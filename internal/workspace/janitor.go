package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Janitor removes stale scratch entries on a schedule.
type Janitor struct {
	mgr       *Manager
	maxAge    time.Duration
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewJanitor creates a janitor for mgr's scratch root.
func NewJanitor(mgr *Manager, interval, maxAge time.Duration) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	j := &Janitor{mgr: mgr, maxAge: maxAge, interval: interval, scheduler: s}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.sweepNow),
		gocron.WithName("scratch-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule scratch janitor: %w", err)
	}
	return j, nil
}

// Start begins periodic sweeps.
func (j *Janitor) Start(context.Context) {
	slog.Info("Starting scratch janitor", logfields.Path(j.mgr.BaseDir()), "interval", j.interval.String(), "max_age", j.maxAge.String())
	j.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (j *Janitor) Stop(context.Context) error {
	return j.scheduler.Shutdown()
}

func (j *Janitor) sweepNow() {
	if _, err := j.Sweep(time.Now()); err != nil {
		slog.Warn("Scratch sweep failed", logfields.Error(err))
	}
}

// Sweep removes buildrelay-* entries last modified before now-maxAge that are
// not held by a live working set. It returns the number removed.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(j.mgr.BaseDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		path := filepath.Join(j.mgr.BaseDir(), e.Name())
		if j.mgr.isActive(path) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to remove stale scratch entry", logfields.Path(path), logfields.Error(err))
			continue
		}
		removed++
		slog.Info("Removed stale scratch entry", logfields.Path(path))
	}
	return removed, nil
}
