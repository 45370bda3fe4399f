package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/kegsync/lifecycle"
)

// Pool manages a set of concurrent worker goroutines that claim captured
// batches and execute them through the Executor.
type Pool struct {
	lifecycle    *lifecycle.Service
	executor     *Executor
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger

	wake          chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
	stopped       bool
	activeBatches map[string]context.CancelFunc
	activeMu      sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often idle workers look for captured batches.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// NewPool creates a worker pool.
func NewPool(lc *lifecycle.Service, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		lifecycle:     lc,
		executor:      executor,
		concurrency:   4,
		pollInterval:  time.Second,
		logger:        logger,
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		activeBatches: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify wakes one idle worker. Captures call it so a batch does not wait
// for the next poll.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Active returns the number of batches currently being processed.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeBatches)
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active batches are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active batches")
		p.cancelActiveBatches()
		p.wg.Wait()
	}
	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		b, err := p.lifecycle.ClaimNext(context.Background())
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if b == nil {
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(b.SessionID, cancel)

		if execErr := p.executor.Execute(ctx, b); execErr != nil {
			p.logger.Debug("batch execution failed",
				slog.String("session_id", b.SessionID),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrack(b.SessionID)
		cancel()
	}
}

func (p *Pool) sleep() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.wake:
	case <-p.stopCh:
	}
}

func (p *Pool) track(sessionID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeBatches[sessionID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(sessionID string) {
	p.activeMu.Lock()
	delete(p.activeBatches, sessionID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveBatches() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for sessionID, cancel := range p.activeBatches {
		p.logger.Warn("cancelling active batch", slog.String("session_id", sessionID))
		cancel()
	}
}
