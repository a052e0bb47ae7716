package poller

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Supervisor runs named tasks concurrently. The first task to fail cancels all others.
type Supervisor struct {
	group   *errgroup.Group
	ctx     context.Context
	logger  *zap.Logger
	onFatal func(task string, err error)
}

func NewSupervisor(ctx context.Context, logger *zap.Logger, onFatal func(task string, err error)) *Supervisor {
	group, groupCtx := errgroup.WithContext(ctx)
	return &Supervisor{
		group:   group,
		ctx:     groupCtx,
		logger:  logger.Named("supervisor"),
		onFatal: onFatal,
	}
}

// Context is cancelled once any task fails or the parent is done.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Go starts a task that runs once.
func (s *Supervisor) Go(name string, task Task) {
	s.group.Go(func() error {
		s.logger.Debug("task started", zap.String("task", name))
		if err := task(s.ctx); err != nil && s.ctx.Err() == nil {
			if s.onFatal != nil {
				s.onFatal(name, err)
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		s.logger.Debug("task finished", zap.String("task", name))
		return nil
	})
}

// Poll starts a poller under the supervisor.
func (s *Supervisor) Poll(p *Poller) {
	s.Go(p.Name(), p.Run)
}

// Wait blocks until every task returned and reports the first failure.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}
