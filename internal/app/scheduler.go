package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Task is a named periodic job. A task never runs concurrently with itself:
// each one owns a single loop, and ticks that arrive while it is busy are
// dropped by the ticker.
type Task struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context)
}

type Scheduler struct {
	tasks []Task
}

// NewScheduler keeps tasks with a positive period; the rest are disabled.
func NewScheduler(tasks ...Task) *Scheduler {
	s := &Scheduler{}
	for _, t := range tasks {
		if t.Period <= 0 || t.Run == nil {
			log.Info().Str("module", "app.scheduler").Str("task", t.Name).Msg("task disabled")
			continue
		}
		s.tasks = append(s.tasks, t)
	}
	return s
}

func (s *Scheduler) Tasks() []Task { return s.tasks }

// Run blocks until ctx is done. In-flight firings complete, nothing is
// rescheduled afterwards.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	log.Info().Str("module", "app.scheduler").Str("task", t.Name).Dur("period", t.Period).Msg("task started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.scheduler").Str("task", t.Name).Msg("task stopped")
			return
		case <-ticker.C:
			fire(ctx, t)
		}
	}
}

func fire(ctx context.Context, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.scheduler").Str("task", t.Name).Err(fmt.Errorf("panic: %v", rec)).Msg("task firing failed")
		}
	}()
	t.Run(ctx)
}
