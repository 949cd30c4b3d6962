// Package dispatch feeds job ids from Postgres or Kafka into a bounded pool
// of orchestrator runs.
package dispatch

import (
	"context"
	"sync"

	"github.com/CanSsever/qoder-deneme-sub000/internal/orchestrator"
)

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, jobID string) orchestrator.Result
}

// Pool bounds how many jobs run at once.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

func (p *Pool) acquire(ctx context.Context) bool {
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) release() { <-p.sem }

// Go waits for a free slot and runs fn in the background. It reports false
// when ctx ended first.
func (p *Pool) Go(ctx context.Context, fn func(context.Context)) bool {
	if !p.acquire(ctx) {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release()
		fn(ctx)
	}()
	return true
}

// Do waits for a free slot and runs fn on the calling goroutine.
func (p *Pool) Do(ctx context.Context, fn func(context.Context)) bool {
	if !p.acquire(ctx) {
		return false
	}
	p.wg.Add(1)
	defer p.wg.Done()
	defer p.release()
	fn(ctx)
	return true
}

// Wait blocks until every running job returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
