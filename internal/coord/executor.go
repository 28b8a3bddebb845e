package coord

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/convoy-engine/convoy/internal/breaker"
	"github.com/convoy-engine/convoy/internal/pool"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/pkg/models"
)

// errCancelRequested aborts the retry loop on cooperative cancellation.
var errCancelRequested = errors.New("cancel requested")

// execute runs one task to a terminal state: invoke the backend through
// the pool and the endpoint's breaker, retrying transient failures with
// exponential backoff up to the task's retry budget.
func (m *Manager) execute(ctx context.Context, taskID, agentID string) {
	task, _, ok := m.tables.Task(taskID)
	if !ok {
		return
	}

	m.events.Publish(router.Event{
		Type:    router.EventTaskStarted,
		TaskID:  taskID,
		AgentID: agentID,
		Attempt: task.RetryCount,
	})
	m.recordHistory(taskID, string(models.TaskStatusRunning), agentID, "")
	m.opts.logger.Log("task %s started on %s (endpoint: %s)", taskID, agentID, task.Endpoint)

	execCtx := ctx
	if m.opts.taskDeadline > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, m.opts.taskDeadline)
		defer cancel()
	}

	attempts := 0
	operation := func() error {
		if m.cancelRequested(taskID) {
			return backoff.Permanent(errCancelRequested)
		}
		if execCtx.Err() != nil {
			return backoff.Permanent(execCtx.Err())
		}

		conn, err := m.pool.Acquire(execCtx)
		if err != nil {
			if errors.Is(err, pool.ErrPoolDraining) {
				return backoff.Permanent(err)
			}
			// Pool contention does not count as a backend attempt.
			return err
		}

		invokeErr := m.breakers.Execute(task.Endpoint, func() error {
			_, err := conn.Invoke(execCtx, task.Endpoint, []byte(task.Payload))
			return err
		})
		if invokeErr != nil && !errors.Is(invokeErr, breaker.ErrCircuitOpen) && execCtx.Err() == nil {
			conn.MarkUnhealthy()
		}
		m.pool.Release(conn)

		if invokeErr != nil {
			if execCtx.Err() != nil {
				return backoff.Permanent(invokeErr)
			}
			// Open breakers are retried too: the cooldown may elapse within
			// the remaining budget.
			attempts++
			return invokeErr
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.retry.InitialInterval
	policy.MaxInterval = m.opts.retry.MaxInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation,
		backoff.WithMaxRetries(backoff.WithContext(policy, execCtx), uint64(task.MaxRetries)))

	switch {
	case err == nil:
		m.finishCompleted(taskID, agentID, attempts)
	case errors.Is(err, errCancelRequested):
		m.finishCancelled(taskID, agentID, attempts)
	case errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil && ctx.Err() == nil:
		m.finishFailed(taskID, agentID, attempts, ErrTaskTimeout)
	case ctx.Err() != nil:
		// Engine shutdown: put the task back so a later run picks it up.
		m.requeueInterrupted(taskID, agentID)
	case errors.Is(err, pool.ErrPoolExhausted):
		// Pool contention is locally recoverable and never a task failure:
		// back to ready for a later scheduling cycle.
		m.requeueContended(taskID, agentID)
	default:
		m.finishFailed(taskID, agentID, attempts, err)
	}
}

// finishCompleted finalizes a successful task and wakes its dependents.
func (m *Manager) finishCompleted(taskID, agentID string, attempts int) {
	task, ok := m.transition(taskID, models.TaskStatusCompleted, func(t *models.Task) {
		now := time.Now()
		t.CompletedAt = &now
		t.RetryCount = attempts
	})
	if !ok {
		return
	}
	m.release(taskID, agentID)
	if m.affinity != nil {
		m.affinity.RecordCompletion(agentID, task.Tags)
	}

	for _, readyID := range m.graph.MarkCompleted(taskID) {
		m.queueReady(readyID)
	}

	m.recordHistory(taskID, string(models.TaskStatusCompleted), agentID, "")
	m.events.Publish(router.Event{
		Type:    router.EventTaskCompleted,
		TaskID:  taskID,
		AgentID: agentID,
		Attempt: attempts,
	})
	m.opts.logger.Log("task %s completed on %s after %d retries", taskID, agentID, attempts)
	m.checkpoint()
}

// finishFailed finalizes a task whose retry budget is spent and cancels
// everything that depended on it.
func (m *Manager) finishFailed(taskID, agentID string, attempts int, cause error) {
	_, ok := m.transition(taskID, models.TaskStatusFailed, func(t *models.Task) {
		now := time.Now()
		t.CompletedAt = &now
		t.RetryCount = attempts
		t.Error = cause.Error()
	})
	if !ok {
		return
	}
	m.release(taskID, agentID)
	m.graph.MarkCancelled(taskID)

	m.recordHistory(taskID, string(models.TaskStatusFailed), agentID, cause.Error())
	m.events.Publish(router.Event{
		Type:    router.EventTaskFailed,
		TaskID:  taskID,
		AgentID: agentID,
		Err:     cause,
		Attempt: attempts,
	})
	m.opts.logger.Log("task %s failed on %s: %v", taskID, agentID, cause)

	for _, dep := range m.graph.CancelCascade(taskID) {
		m.cancelNow(dep, "dependency failed")
	}
	m.checkpoint()
}

// finishCancelled finalizes a cooperatively cancelled task.
func (m *Manager) finishCancelled(taskID, agentID string, attempts int) {
	_, ok := m.transition(taskID, models.TaskStatusCancelled, func(t *models.Task) {
		now := time.Now()
		t.CompletedAt = &now
		t.RetryCount = attempts
	})
	if !ok {
		return
	}
	m.release(taskID, agentID)
	m.graph.MarkCancelled(taskID)

	m.mu.Lock()
	delete(m.cancels, taskID)
	m.mu.Unlock()

	m.recordHistory(taskID, string(models.TaskStatusCancelled), agentID, "cancelled while running")
	m.events.Publish(router.Event{
		Type:    router.EventTaskCancelled,
		TaskID:  taskID,
		AgentID: agentID,
		Message: "cancelled while running",
	})
	m.opts.logger.Log("task %s cancelled while running on %s", taskID, agentID)

	for _, dep := range m.graph.CancelCascade(taskID) {
		m.cancelNow(dep, "dependency cancelled")
	}
	m.checkpoint()
}

// requeueInterrupted returns a task interrupted by shutdown to the ready
// state so a future run can resume it.
func (m *Manager) requeueInterrupted(taskID, agentID string) {
	_, ok := m.transition(taskID, models.TaskStatusReady, func(t *models.Task) {
		t.AssignedTo = ""
		now := time.Now()
		t.ReadyAt = &now
	})
	if !ok {
		return
	}
	m.release(taskID, agentID)
	m.opts.logger.Log("task %s interrupted by shutdown, returned to ready", taskID)
}

// requeueContended returns a task that could not acquire a pool connection
// to the ready queue. Unlike requeueInterrupted the engine is still running,
// so the task re-enters the scheduler directly.
func (m *Manager) requeueContended(taskID, agentID string) {
	task, ok := m.transition(taskID, models.TaskStatusReady, func(t *models.Task) {
		t.AssignedTo = ""
		now := time.Now()
		t.ReadyAt = &now
	})
	if !ok {
		return
	}
	m.release(taskID, agentID)
	m.scheduler.Enqueue(task.ID, task.Priority)
	m.events.Publish(router.Event{Type: router.EventTaskQueued, TaskID: task.ID, Message: "pool exhausted, requeued"})
	m.opts.logger.Log("task %s requeued: connection pool exhausted", taskID)
	m.checkpoint()
}

// release frees the task's resource claims and the agent's load slot.
func (m *Manager) release(taskID, agentID string) {
	m.resources.Release(taskID)
	m.tables.AdjustAgentLoad(agentID, -1)
}
