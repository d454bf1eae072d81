package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// keyQueue is the per-key FIFO behind a dispatcher worker.
//
// refs counts publishers holding a reservation: they looked the queue up
// under the dispatcher lock and are sending (or blocked sending) on ch.
// A worker may only retire its queue when the buffer is empty and no
// reservations are outstanding, so an accepted item is never lost to
// reaping.
type keyQueue[T any] struct {
	ch       chan T
	refs     int
	stopping bool
}

// dispatcher delivers items to handle, one worker goroutine per key.
// Items with the same key are handled in publish order, one at a time;
// distinct keys run concurrently. Workers that stay idle are reaped so
// the key space stays bounded when keys are ephemeral.
type dispatcher[T any] struct {
	handle func(T)
	buffer int
	idle   time.Duration

	mu     sync.Mutex
	queues map[string]*keyQueue[T]

	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newDispatcher[T any](buffer int, idle time.Duration, handle func(T)) *dispatcher[T] {
	return &dispatcher[T]{
		handle:  handle,
		buffer:  buffer,
		idle:    idle,
		queues:  make(map[string]*keyQueue[T]),
		stopped: make(chan struct{}),
	}
}

// publish enqueues item under key and returns once it is accepted. It
// blocks while the key's queue is full, failing only when ctx ends or
// the dispatcher stops first.
func (d *dispatcher[T]) publish(ctx context.Context, key string, item T) error {
	d.mu.Lock()
	select {
	case <-d.stopped:
		d.mu.Unlock()
		return ErrBusClosed
	default:
	}
	q, ok := d.queues[key]
	if !ok || q.stopping {
		q = &keyQueue[T]{ch: make(chan T, d.buffer)}
		d.queues[key] = q
		d.wg.Add(1)
		go d.run(key, q)
	}
	q.refs++
	d.mu.Unlock()

	var err error
	sent := false
	select {
	case q.ch <- item:
		sent = true
	case <-d.stopped:
		err = ErrBusClosed
	case <-ctx.Done():
		err = ctx.Err()
	}

	d.mu.Lock()
	q.refs--
	d.mu.Unlock()

	if sent {
		return nil
	}
	return err
}

// run is the worker loop for one key. It exits when the dispatcher stops
// or when the queue has been idle for the configured duration with no
// publisher mid-send.
func (d *dispatcher[T]) run(key string, q *keyQueue[T]) {
	defer d.wg.Done()
	idle := time.NewTimer(d.idle)
	defer idle.Stop()
	for {
		select {
		case item := <-q.ch:
			d.invoke(item)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idle)
		case <-idle.C:
			d.mu.Lock()
			if len(q.ch) == 0 && q.refs == 0 {
				q.stopping = true
				delete(d.queues, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idle)
		case <-d.stopped:
			return
		}
	}
}

// invoke runs the handler, containing panics so one bad item cannot take
// down its dispatch worker.
func (d *dispatcher[T]) invoke(item T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus handler panic", "panic", r)
		}
	}()
	d.handle(item)
}

// stop ends intake and waits for workers to finish their current handler,
// up to the context deadline. Items accepted but not yet handled are
// dropped.
func (d *dispatcher[T]) stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopped) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// activeKeys reports how many key workers are currently live.
func (d *dispatcher[T]) activeKeys() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
