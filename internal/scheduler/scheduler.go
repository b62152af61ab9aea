// Package scheduler runs deferred coaching tasks in the background so
// webhook handlers can acknowledge Slack within its three second
// deadline. Tasks are fire-and-forget: results reach the user through
// the delivery channel, never through the scheduling call.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"slackcoach/internal/common/config"
	"slackcoach/internal/common/errors"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/common/metrics"
	"slackcoach/internal/common/observability"
)

// TaskFunc is one unit of deferred work. The context carries the task
// timeout; the function must respect it on every outbound call.
type TaskFunc func(ctx context.Context) error

// Scheduler bounds concurrent task execution and contains failures so
// no task can take the process down.
type Scheduler struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
	logger  logger.Logger
	obs     *observability.Observability

	mu     sync.Mutex
	closed bool
}

func New(cfg config.PipelineConfig, obs *observability.Observability, log logger.Logger) *Scheduler {
	slots := cfg.MaxConcurrentTasks
	if slots <= 0 {
		slots = 1
	}
	return &Scheduler{
		sem:     make(chan struct{}, slots),
		timeout: time.Duration(cfg.TaskTimeout) * time.Second,
		logger:  log,
		obs:     obs,
	}
}

// Schedule queues a task for background execution and returns its
// correlation id immediately. The goroutine waits for a concurrency
// slot, so a burst past the limit delays work instead of shedding it.
func (s *Scheduler) Schedule(taskType string, fn TaskFunc) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("scheduler is shut down")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	taskID := uuid.New().String()
	go s.run(taskID, taskType, fn)
	return taskID, nil
}

func (s *Scheduler) run(taskID, taskType string, fn TaskFunc) {
	defer s.wg.Done()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	metrics.TasksActive.WithLabelValues(taskType).Inc()
	defer metrics.TasksActive.WithLabelValues(taskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.invoke(ctx, taskID, taskType, fn)
	elapsed := time.Since(start)

	metrics.TaskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())

	if err != nil {
		code := string(errors.CodeOf(err))
		metrics.TasksFailed.WithLabelValues(taskType, code).Inc()
		if s.obs != nil {
			s.obs.RecordTaskProcessed(ctx, taskType, "failed")
			s.obs.RecordTaskDuration(ctx, taskType, elapsed, "failed")
		}
		fields := map[string]interface{}{
			"task_id":     taskID,
			"task_type":   taskType,
			"error":       err.Error(),
			"error_code":  code,
			"duration_ms": elapsed.Milliseconds(),
		}
		var se *errors.StandardError
		if stderrors.As(err, &se) {
			fields["retryable"] = se.Retryable
			for k, v := range se.Metadata {
				fields[k] = v
			}
		}
		s.logger.Error("task failed", fields)
		return
	}

	metrics.TasksCompleted.WithLabelValues(taskType).Inc()
	if s.obs != nil {
		s.obs.RecordTaskProcessed(ctx, taskType, "completed")
		s.obs.RecordTaskDuration(ctx, taskType, elapsed, "completed")
	}
	s.logger.Info("task completed", map[string]interface{}{
		"task_id":     taskID,
		"task_type":   taskType,
		"duration_ms": elapsed.Milliseconds(),
	})
}

// invoke is the panic boundary. A panicking task becomes an ordinary
// task failure with a stack trace in the log.
func (s *Scheduler) invoke(ctx context.Context, taskID, taskType string, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", map[string]interface{}{
				"task_id":   taskID,
				"task_type": taskType,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Shutdown stops accepting new tasks and waits for in-flight ones to
// finish, up to the context deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown deadline passed with tasks in flight: %w", ctx.Err())
	}
}
