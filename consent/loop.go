package consent

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/consentclick/dom"
)

// loop is a single-goroutine task queue. Every piece of session state is
// read and written from tasks only. post never blocks, so backends may
// deliver callbacks from inside a running task.
type loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newLoop() *loop {
	return &loop{wake: make(chan struct{}, 1)}
}

func (l *loop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

// run executes tasks until ctx ends or done is closed.
func (l *loop) run(ctx context.Context, done <-chan struct{}) {
	for {
		for fn := l.pop(); fn != nil; fn = l.pop() {
			fn()
			select {
			case <-done:
				return
			default:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-l.wake:
		}
	}
}

// timer fires fn on the loop unless stopped first. live is loop-owned.
type timer struct {
	t    *time.Timer
	live bool
}

func (l *loop) after(d time.Duration, fn func()) *timer {
	tm := &timer{live: true}
	tm.t = time.AfterFunc(d, func() {
		l.post(func() {
			if !tm.live {
				return
			}
			tm.live = false
			fn()
		})
	})
	return tm
}

func (tm *timer) stop() {
	if tm == nil || !tm.live {
		return
	}
	tm.live = false
	tm.t.Stop()
}

// subscription forwards mutation batches to the loop until stopped.
type subscription struct {
	cancel dom.CancelFunc
	live   bool
}

func (l *loop) observe(doc dom.Document, target dom.Element, opts dom.ObserveOptions, fn func()) (*subscription, error) {
	sub := &subscription{live: true}
	cancel, err := doc.Observe(target, opts, func([]dom.Mutation) {
		l.post(func() {
			if sub.live {
				fn()
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sub.cancel = cancel
	return sub, nil
}

func (s *subscription) stop() {
	if s == nil || !s.live {
		return
	}
	s.live = false
	s.cancel()
}
