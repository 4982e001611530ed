package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

type item struct {
	ev     contractx.DispatchEvent
	fireAt time.Time
	seq    uint64
}

type queue []item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].fireAt.Equal(q[j].fireAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].fireAt.Before(q[j].fireAt)
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(item)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// Timer is the in-process timeout clock. Scheduled events come out of Events at their fire
// time; nothing survives a restart, which the sweeper covers.
type Timer struct {
	mu    sync.Mutex
	queue queue
	seq   uint64
	wake  chan struct{}
	out   chan contractx.DispatchEvent
}

var _ contractx.TimeoutScheduler = (*Timer)(nil)

func NewTimer(buffer int) *Timer {
	if buffer < 0 {
		buffer = 0
	}
	return &Timer{
		wake: make(chan struct{}, 1),
		out:  make(chan contractx.DispatchEvent, buffer),
	}
}

func (t *Timer) Schedule(_ context.Context, ev contractx.DispatchEvent, fireAt time.Time) error {
	t.mu.Lock()
	t.seq++
	heap.Push(&t.queue, item{ev: ev, fireAt: fireAt, seq: t.seq})
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

func (t *Timer) Events() <-chan contractx.DispatchEvent {
	return t.out
}

func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

// Run delivers due events until ctx ends, then closes Events.
func (t *Timer) Run(ctx context.Context) {
	defer close(t.out)

	clock := time.NewTimer(time.Hour)
	defer clock.Stop()

	for {
		due, wait, ok := t.next(time.Now())
		if ok {
			select {
			case t.out <- due:
				continue
			case <-ctx.Done():
				return
			}
		}

		clock.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
		case <-clock.C:
		}
	}
}

// next pops the earliest event if it is due, or reports how long to wait for it.
func (t *Timer) next(now time.Time) (contractx.DispatchEvent, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue.Len() == 0 {
		return contractx.DispatchEvent{}, time.Hour, false
	}
	head := t.queue[0]
	if wait := head.fireAt.Sub(now); wait > 0 {
		return contractx.DispatchEvent{}, wait, false
	}
	heap.Pop(&t.queue)
	return head.ev, 0, true
}
