package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"file-drop/internal/drop"
	"file-drop/internal/lease"
)

const sweepLeaseKey = "sweep"

// SweepRunner is the part of drop.Service the sweeper drives.
type SweepRunner interface {
	Sweep(ctx context.Context) (drop.SweepReport, error)
	SweepGroupFiles(ctx context.Context) (drop.SweepReport, error)
}

type SweeperConfig struct {
	Schedule   string // standard 5-field cron spec
	GroupSweep bool
	// LeaseTTL bounds how long one instance may hold the sweep lease.
	LeaseTTL time.Duration
}

// CleanupReport is the outcome of one sweep run.
type CleanupReport struct {
	Expired    drop.SweepReport  `json:"expired"`
	Groups     *drop.SweepReport `json:"groups,omitempty"`
	Skipped    bool              `json:"skipped,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// Sweeper runs drop sweeps on a cron schedule and on demand. Runs are
// serialised within the process and across instances via the lease.
type Sweeper struct {
	svc    SweepRunner
	locker lease.Locker
	cfg    SweeperConfig
	log    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSweeper(svc SweepRunner, locker lease.Locker, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if locker == nil {
		locker = lease.Local{}
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		svc:    svc,
		locker: locker,
		cfg:    cfg,
		log:    logger.With("component", "sweeper"),
	}
}

// Start registers the schedule and starts the cron loop.
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LeaseTTL)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduled sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cleanup schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("sweeper started", "schedule", s.cfg.Schedule, "group_sweep", s.cfg.GroupSweep)
	return nil
}

// Stop stops scheduling and waits for a running sweep until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("sweeper stop timed out")
	}
}

// RunOnce performs one sweep. Another instance holding the lease yields a
// report with Skipped set and no error.
func (s *Sweeper) RunOnce(ctx context.Context) (CleanupReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	release, ok, err := s.locker.TryAcquire(ctx, sweepLeaseKey, s.cfg.LeaseTTL)
	if err != nil {
		return CleanupReport{}, fmt.Errorf("acquire sweep lease: %w: %w", drop.ErrBackendUnavailable, err)
	}
	if !ok {
		s.log.Debug("sweep skipped, lease held elsewhere")
		return CleanupReport{Skipped: true}, nil
	}
	defer release()

	var rep CleanupReport
	rep.Expired, err = s.svc.Sweep(ctx)
	if err != nil {
		return rep, err
	}
	if s.cfg.GroupSweep {
		groups, gerr := s.svc.SweepGroupFiles(ctx)
		if gerr != nil {
			return rep, gerr
		}
		rep.Groups = &groups
	}
	rep.DurationMs = time.Since(start).Milliseconds()

	s.log.Info("sweep finished",
		"scanned", rep.Expired.Scanned,
		"deleted", rep.Expired.Deleted,
		"failed", rep.Expired.Failed,
		"ms", rep.DurationMs,
	)
	return rep, nil
}

var errNoSweeper = errors.New("cleanup is not configured")

// handleCleanup triggers a sweep and returns its report.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", drop.ErrBackendUnavailable, errNoSweeper))
		return
	}
	rep, err := s.sweeper.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
