// Package scheduler runs one periodic timer per enabled monitor,
// pushing results into a bounded channel. The per-task
// context-cancellation and WaitGroup shutdown shape follows
// internal/sync/p2p.go's syncLoop/Stop pattern.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uppe-net/uppe/internal/executor"
	"github.com/uppe-net/uppe/internal/monitor"
)

// MinResultChannelCapacity is the minimum bound for the result channel,
// per §4.6's "bounded channel (>=100)" backpressure contract.
const MinResultChannelCapacity = 100

// Scheduler owns one goroutine per enabled monitor.
type Scheduler struct {
	executor *executor.Executor
	results  chan monitor.CheckResult

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler emitting into a channel of at least
// MinResultChannelCapacity capacity.
func New(exec *executor.Executor, resultCapacity int) *Scheduler {
	if resultCapacity < MinResultChannelCapacity {
		resultCapacity = MinResultChannelCapacity
	}
	return &Scheduler{
		executor: exec,
		results:  make(chan monitor.CheckResult, resultCapacity),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Results returns the channel that receives produced check results.
func (s *Scheduler) Results() <-chan monitor.CheckResult {
	return s.results
}

// Schedule starts a ticking task for m. Re-scheduling the same UUID
// cancels the previous task first.
func (s *Scheduler) Schedule(ctx context.Context, m monitor.Monitor) {
	s.Unschedule(m.UUID)

	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[m.UUID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(taskCtx, m)
}

// Unschedule cancels the task for the given monitor UUID, if any.
// Cancellation is immediate: dropping the task handle stops new ticks.
func (s *Scheduler) Unschedule(id uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	if ok {
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every scheduled task and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, m monitor.Monitor) {
	defer s.wg.Done()

	interval := time.Duration(m.IntervalSeconds) * time.Second
	timeout := time.Duration(m.TimeoutSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := s.executor.Execute(ctx, m.UUID, m.Target, m.CheckType, timeout)
			result.MonitorUUID = m.UUID

			// Bounded channel send backpressures check issuance: if the
			// result loop is slow, this tick blocks here rather than
			// piling up unbounded work.
			select {
			case s.results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}
