package taskengine

import "container/heap"

// taskHeap is a container/heap.Interface over queued tasks, ordered by
// descending priority with FIFO tiebreak on equal priority (lower seq
// first).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue wraps taskHeap with heap-aware push/pop and a removal path
// (a linear scan by ID, then heap.Remove) for cancelling a still-queued task.
type priorityQueue struct {
	h taskHeap
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.h)
	return pq
}

func (pq *priorityQueue) push(t *Task) {
	heap.Push(&pq.h, t)
}

// pop removes and returns the highest-priority task, or nil if empty.
func (pq *priorityQueue) pop() *Task {
	if pq.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&pq.h).(*Task)
}

func (pq *priorityQueue) len() int {
	return pq.h.Len()
}

// remove deletes the task with the given id from the queue, used when a
// queued (not yet running) task is cancelled.
func (pq *priorityQueue) remove(id string) bool {
	for i, t := range pq.h {
		if t.ID == id {
			heap.Remove(&pq.h, i)
			return true
		}
	}
	return false
}

func (pq *priorityQueue) clear() []*Task {
	drained := make([]*Task, len(pq.h))
	copy(drained, pq.h)
	pq.h = pq.h[:0]
	return drained
}

func (pq *priorityQueue) snapshot() []*Task {
	out := make([]*Task, len(pq.h))
	copy(out, pq.h)
	return out
}
