// Package transmit batches approved discovery events and ships them to the
// external assessment API, recording every batch in a relational ledger.
package transmit

import "sync"

// Queue is a mutex-guarded FIFO of event payloads. PushFront restores a
// failed batch to the head so creation order survives re-queueing.
type Queue struct {
	mu    sync.Mutex
	items []map[string]any
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(item map[string]any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// PushFront restores items to the head of the queue in their original
// order.
func (q *Queue) PushFront(items []map[string]any) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	restored := make([]map[string]any, 0, len(items)+len(q.items))
	restored = append(restored, items...)
	q.items = append(restored, q.items...)
}

// PopN removes and returns up to n items in FIFO order.
func (q *Queue) PopN(n int) []map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	out := make([]map[string]any, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
