package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Supervisor runs readers, writers and long-lived services. A failing task
// is logged and otherwise ignored; errors never travel past the supervisor.
type Supervisor struct {
	running sync.Map
	wg      sync.WaitGroup
	seq     atomic.Uint64

	logger *slog.Logger
}

func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger: logger.With(logKeyCategory, "supervisor"),
	}
}

// Go runs fn in a new goroutine.
func (s *Supervisor) Go(task string, fn func() error) {
	key := s.track(task)
	go func() {
		defer s.untrack(key)
		s.report(task, fn())
	}()
}

// Run runs fn on the calling goroutine.
func (s *Supervisor) Run(task string, fn func() error) {
	key := s.track(task)
	defer s.untrack(key)
	s.report(task, fn())
}

func (s *Supervisor) track(task string) string {
	s.wg.Add(1)
	key := fmt.Sprintf("%s#%d", task, s.seq.Add(1))
	s.running.Store(key, task)
	return key
}

func (s *Supervisor) untrack(key string) {
	s.running.Delete(key)
	s.wg.Done()
}

func (s *Supervisor) report(task string, err error) {
	if err != nil {
		s.logger.Error("task failed", LabelTask.L(task), LabelError.L(err))
		return
	}
	s.logger.Debug("task finished", LabelTask.L(task))
}

// Running lists the tasks that have not returned yet.
func (s *Supervisor) Running() []string {
	var tasks []string
	s.running.Range(func(_, task any) bool {
		tasks = append(tasks, task.(string))
		return true
	})
	sort.Strings(tasks)
	return tasks
}

// Wait blocks until every task has returned, logging the stragglers while it
// waits. It gives up with ctx.Err() once ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for {
		ticks++
		if ticks < 5 {
			ticker.Reset(time.Duration(10*ticks) * time.Millisecond)
		} else if ticks == 5 {
			ticker.Reset(time.Second)
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, task := range s.Running() {
				s.logger.Info("Still running", LabelTask.L(task))
			}
		}
	}
}
