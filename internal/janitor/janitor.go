package janitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/tempfile"
	"github.com/robfig/cron/v3"
)

// Janitor periodically removes temp files orphaned by crashed processes.
type Janitor struct {
	cron   *cron.Cron
	dir    string
	maxAge time.Duration
	logger *log.Logger
	now    func() time.Time
}

func New(cfg config.JanitorConfig, dir string, logger *log.Logger) (*Janitor, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[janitor] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.MaxAge <= 0 {
		return nil, errors.New("janitor max age must be > 0")
	}
	if dir == "" {
		dir = os.TempDir()
	}

	j := &Janitor{
		cron:   cron.New(),
		dir:    dir,
		maxAge: cfg.MaxAge,
		logger: logger,
		now:    time.Now,
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start runs one sweep immediately, then follows the schedule.
func (j *Janitor) Start() {
	j.Sweep()
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) Sweep() int {
	removed, err := tempfile.CleanOrphaned(j.dir, j.maxAge, j.now())
	if err != nil {
		j.logger.Printf("sweep failed dir=%s err=%v", j.dir, err)
		return 0
	}
	if removed > 0 {
		j.logger.Printf("sweep removed=%d dir=%s", removed, j.dir)
	}
	return removed
}
