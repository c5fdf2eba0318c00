package scheduler

import "time"

type deferredItem struct {
	key    string
	wakeAt time.Time
	value  []byte
}

// wakeQueue is a min-heap of deferred entries ordered by wake time.
type wakeQueue []deferredItem

func (q wakeQueue) Len() int { return len(q) }

func (q wakeQueue) Less(i, j int) bool {
	if q[i].wakeAt.Equal(q[j].wakeAt) {
		return q[i].key < q[j].key
	}
	return q[i].wakeAt.Before(q[j].wakeAt)
}

func (q wakeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *wakeQueue) Push(x any) { *q = append(*q, x.(deferredItem)) }

func (q *wakeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func (q wakeQueue) peek() deferredItem { return q[0] }
