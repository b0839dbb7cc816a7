package dispatch

import (
	"context"
	"sync"
	"time"
)

// Pacer is the single global gate in front of the Discord webhook. Every
// send reserves the next free slot; a 429 pushes the gate forward so
// concurrent events collectively honor the endpoint's advertised delay
// instead of each backing off on its own clock.
type Pacer struct {
	mu          sync.Mutex
	notBefore   time.Time
	minInterval time.Duration
}

func NewPacer(minInterval time.Duration) *Pacer {
	return &Pacer{minInterval: minInterval}
}

// Wait blocks until this caller's reserved send slot arrives. A wait cut
// short by context cancellation gives the slot back, unless a later caller
// already reserved past it.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	wait := p.notBefore.Sub(now)
	if wait < 0 {
		wait = 0
	}
	prev := p.notBefore
	reserved := now.Add(wait + p.minInterval)
	p.notBefore = reserved
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	if err := sleepCtx(ctx, wait); err != nil {
		p.mu.Lock()
		if p.notBefore.Equal(reserved) {
			p.notBefore = prev
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// Push moves the gate at least d into the future.
func (p *Pacer) Push(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(p.notBefore) {
		p.notBefore = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
