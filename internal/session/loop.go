package session

import (
	"fmt"
	"log/slog"
	"sync"

	"vinscan/internal/logging"
)

// Owner is the single execution context that receives results.
type Owner interface {
	// Post schedules fn to run on the owner. It never blocks on fn.
	Post(fn func())
}

// Loop is an Owner backed by one goroutine draining an unbounded FIFO
// mailbox. Functions run in the order they were posted.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

// NewLoop starts a loop goroutine. Panics in posted functions are recovered
// and logged so later deliveries still run.
func NewLoop(logger *slog.Logger) *Loop {
	l := &Loop{done: make(chan struct{}), logger: logging.NewComponentLogger(logger, "owner-loop")}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post enqueues fn. After Close, fn runs on the caller so it is never lost.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.invoke(fn)
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	l.mu.Unlock()
}

// Close stops accepting work, runs what is already queued and waits for
// the goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Broadcast()
	}
	l.mu.Unlock()
	<-l.done
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending reports the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("owner callback panicked",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldEventType, "callback_panic"),
				logging.String(logging.FieldErrorHint, "fix the result callback; the task was still retired"),
				logging.String(logging.FieldImpact, "one result notification was cut short"),
			)
		}
	}()
	fn()
}
