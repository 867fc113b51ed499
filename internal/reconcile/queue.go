package reconcile

import (
	"arbitrage-bot-go/internal/models"
	"container/heap"
)

type item struct {
	order models.PendingOrder
	seq   uint64
	index int
}

// deadlineQueue is a min-heap of in-flight orders ordered by deadline, with
// insertion order breaking ties.
type deadlineQueue []*item

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool {
	if q[i].order.Deadline.Equal(q[j].order.Deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].order.Deadline.Before(q[j].order.Deadline)
}

func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *deadlineQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// ordered returns copies of the queued orders, earliest deadline first,
// without disturbing the heap.
func (q deadlineQueue) ordered() []models.PendingOrder {
	cp := make(deadlineQueue, len(q))
	for i, it := range q {
		dup := *it
		dup.index = i
		cp[i] = &dup
	}
	out := make([]models.PendingOrder, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(*item).order)
	}
	return out
}
