package poller

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Poller runs a Task, sleeps for its interval, and repeats until the task fails or ctx is done.
type Poller struct {
	name     string
	interval time.Duration
	task     Task
	logger   *zap.Logger
}

func New(name string, interval time.Duration, task Task, logger *zap.Logger) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.Named(name),
	}
}

func (p *Poller) Name() string {
	return p.name
}

// Run returns nil when ctx is cancelled and the task error otherwise.
// A failing task is not run again.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopped")
			return nil
		case <-timer.C:
		}

		if err := p.task(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("poller task failed", zap.Error(err))
			return err
		}

		timer.Reset(p.interval)
	}
}
