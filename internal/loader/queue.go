package loader

import "sync"

// serialQueue runs submitted funcs one at a time in submission order on a
// single worker goroutine. Everything that touches loader buffers goes
// through here, so two page results are never folded concurrently.
type serialQueue struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newSerialQueue(depth int) *serialQueue {
	if depth <= 0 {
		depth = 64
	}

	q := &serialQueue{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}

	q.wg.Add(1)
	go q.loop()

	return q
}

func (q *serialQueue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case fn := <-q.tasks:
			fn()
		}
	}
}

// push schedules fn; returns false after close. Pending tasks at close time
// are dropped, the loader is being torn down anyway.
func (q *serialQueue) push(fn func()) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.tasks <- fn:
		return true
	case <-q.done:
		return false
	}
}

func (q *serialQueue) close() {
	q.once.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
