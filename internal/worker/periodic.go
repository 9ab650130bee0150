package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickerFunc returns a tick channel and its stop func. Tests swap it for a
// manual channel.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// periodic runs fn once at start and then on every tick until stopped.
// fn receives a context detached from cancellation so an in-flight run
// always completes.
type periodic struct {
	name      string
	interval  time.Duration
	newTicker TickerFunc
	fn        func(ctx context.Context)
	logger    *zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	started bool
}

func (p *periodic) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	newTicker := p.newTicker
	if newTicker == nil {
		newTicker = realTicker
	}
	ticks, stopTicker := newTicker(p.interval)

	go func() {
		defer close(p.done)
		defer stopTicker()

		p.logger.Info().Dur("interval", p.interval).Msgf("%s started", p.name)
		defer p.logger.Info().Msgf("%s stopped", p.name)

		work := context.WithoutCancel(ctx)
		p.fn(work)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticks:
				p.fn(work)
			}
		}
	}()
}

// stop signals the loop and waits for the current run to finish.
func (p *periodic) stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	done := p.done
	p.mu.Unlock()
	<-done
}
