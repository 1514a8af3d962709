// Package coordinator tracks long-running evidence operations such as verification runs
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a tracked run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Run is a snapshot of one tracked operation
type Run struct {
	ID        string
	Kind      string
	Status    RunStatus
	StartTime time.Time
	EndTime   time.Time
	Total     int
	Done      int
	Error     error

	cancel context.CancelFunc
}

// Progress returns the completed fraction in [0, 1]
func (r *Run) Progress() float64 {
	if r.Total == 0 {
		if r.Status == StatusCompleted {
			return 1
		}
		return 0
	}
	return float64(r.Done) / float64(r.Total)
}

func (r *Run) snapshot() *Run {
	return &Run{
		ID:        r.ID,
		Kind:      r.Kind,
		Status:    r.Status,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Total:     r.Total,
		Done:      r.Done,
		Error:     r.Error,
	}
}

// Coordinator keeps active and finished runs. Finished runs are retained up to history.
type Coordinator struct {
	mu         sync.RWMutex
	runs       map[string]*Run
	finished   []string
	history    int
	shutdownCh chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewCoordinator retains at most history finished runs; zero keeps 100
func NewCoordinator(history int) *Coordinator {
	if history <= 0 {
		history = 100
	}
	return &Coordinator{
		runs:       make(map[string]*Run),
		history:    history,
		shutdownCh: make(chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start registers a run of total steps and returns a context cancelled by Cancel or Shutdown
func (c *Coordinator) Start(ctx context.Context, runID, kind string, total int) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// checked under c.mu so wg.Add never races the wg.Wait in Shutdown
	if c.IsShuttingDown() {
		return nil, fmt.Errorf("coordinator is shutting down")
	}

	if _, exists := c.runs[runID]; exists {
		return nil, fmt.Errorf("run %s already exists", runID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runs[runID] = &Run{
		ID:        runID,
		Kind:      kind,
		Status:    StatusRunning,
		StartTime: c.now(),
		Total:     total,
		cancel:    cancel,
	}
	c.wg.Add(1)
	return runCtx, nil
}

// Step records one completed unit of work
func (c *Coordinator) Step(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[runID]; ok && r.Status == StatusRunning {
		r.Done++
	}
}

// Finish closes a run as completed, or failed when err is non-nil
func (c *Coordinator) Finish(runID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.runs[runID]
	if !ok || r.Status != StatusRunning {
		return
	}
	r.Status = StatusCompleted
	if err != nil {
		r.Status = StatusFailed
		r.Error = err
	}
	c.finishLocked(r)
}

// Cancel stops a running run
func (c *Coordinator) Cancel(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.runs[runID]; ok && r.Status == StatusRunning {
		r.Status = StatusCancelled
		r.Error = context.Canceled
		c.finishLocked(r)
	}
}

// finishLocked releases the run and trims history. Caller holds c.mu.
func (c *Coordinator) finishLocked(r *Run) {
	r.EndTime = c.now()
	r.cancel()
	c.wg.Done()

	c.finished = append(c.finished, r.ID)
	for len(c.finished) > c.history {
		delete(c.runs, c.finished[0])
		c.finished = c.finished[1:]
	}
}

// Get returns a copy of the run, or nil
func (c *Coordinator) Get(runID string) *Run {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r, ok := c.runs[runID]; ok {
		return r.snapshot()
	}
	return nil
}

// List returns copies of every known run
func (c *Coordinator) List() []*Run {
	c.mu.RLock()
	defer c.mu.RUnlock()

	runs := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r.snapshot())
	}
	return runs
}

// Shutdown cancels active runs and waits for their owners to finish them
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closeOnce.Do(func() { close(c.shutdownCh) })
	for _, r := range c.runs {
		if r.Status == StatusRunning {
			r.cancel()
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShuttingDown reports whether Shutdown has been called
func (c *Coordinator) IsShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}
