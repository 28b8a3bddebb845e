// Package sched assigns ready tasks to agents using pluggable strategies.
package sched

import (
	"container/heap"
	"sync"
	"time"
)

// queueItem is one ready task waiting for assignment.
type queueItem struct {
	id       string
	priority int
	// seq breaks priority ties first-in-first-out.
	seq   uint64
	index int
	// enqueuedAt records when the task entered the queue.
	enqueuedAt time.Time
}

// readyHeap orders by priority descending, then insertion order ascending.
type readyHeap []*queueItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// ReadyQueue is the priority queue of ready tasks maintained by the base
// scheduler. Higher priority pops first; equal priorities pop FIFO.
type ReadyQueue struct {
	mu   sync.Mutex
	heap readyHeap
	byID map[string]*queueItem
	seq  uint64
}

// NewReadyQueue creates an empty queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{byID: make(map[string]*queueItem)}
}

// Enqueue adds a task; re-enqueueing an ID already present is a no-op.
func (q *ReadyQueue) Enqueue(id string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byID[id]; exists {
		return
	}
	q.seq++
	item := &queueItem{id: id, priority: priority, seq: q.seq, enqueuedAt: time.Now()}
	q.byID[id] = item
	heap.Push(&q.heap, item)
}

// Pop removes and returns the highest-priority task ID.
func (q *ReadyQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&q.heap).(*queueItem)
	delete(q.byID, item.id)
	return item.id, true
}

// Remove deletes a task from the queue if present.
func (q *ReadyQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, exists := q.byID[id]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, id)
	return true
}

// Contains reports whether a task is queued.
func (q *ReadyQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[id]
	return ok
}

// Len returns the queue depth.
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
