package remote

import (
	"sync"

	"github.com/JafarAbdi/zrm/pkg/transport"
)

func (s *subState) deliver(smp transport.Sample) {
	if s.handler != nil {
		s.handler(smp)
	}
}

func (s *subState) deliverLiveliness(key string, alive bool) {
	if s.livHandler != nil {
		s.livHandler(key, alive)
	}
}

// fifo runs queued callbacks on one worker goroutine so per-subscription
// ordering matches arrival order.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func newFifo() *fifo {
	f := &fifo{done: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	go f.run()
	return f
}

func (f *fifo) push(task func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.tasks = append(f.tasks, task)
	f.cond.Signal()
	f.mu.Unlock()
}

func (f *fifo) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.tasks) == 0 && !f.closed {
			f.cond.Wait()
		}
		if f.closed {
			f.mu.Unlock()
			return
		}
		task := f.tasks[0]
		f.tasks = f.tasks[1:]
		f.mu.Unlock()
		task()
	}
}

func (f *fifo) stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cond.Signal()
	f.mu.Unlock()
	<-f.done
}
