package emotion

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IntentQueue is an insertion-ordered, capacity-bounded sequence of pending
// write intents. Intents are never mutated in place: they are appended by
// Enqueue and removed only from the front by Clear, so a flush that fails
// leaves the queue exactly as it found it.
type IntentQueue interface {
	Enqueue(item WriteIntent) error
	Snapshot() []WriteIntent
	// Clear drops the first n intents. Intents enqueued after the caller took
	// its snapshot stay queued.
	Clear(n int) error
	Depth() int
	Capacity() int
	Close() error
}

// stampIntent backfills the identity fields a raw capture may lack: a fresh
// intent ID for ingest-side deduplication and the capture timestamp in Unix
// milliseconds.
func stampIntent(item WriteIntent) WriteIntent {
	if strings.TrimSpace(item.IntentID) == "" {
		item.IntentID = uuid.NewString()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().UnixMilli()
	}
	return item
}

type inMemoryIntentQueue struct {
	capacity int
	mu       sync.Mutex
	items    []WriteIntent
}

func NewInMemoryIntentQueue(capacity int) IntentQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryIntentQueue{
		capacity: capacity,
		items:    []WriteIntent{},
	}
}

func (q *inMemoryIntentQueue) Enqueue(item WriteIntent) error {
	if strings.TrimSpace(item.Type) == "" {
		return ErrInvalidInput
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, stampIntent(item))
	return nil
}

func (q *inMemoryIntentQueue) Snapshot() []WriteIntent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]WriteIntent(nil), q.items...)
}

func (q *inMemoryIntentQueue) Clear(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	q.items = append([]WriteIntent(nil), q.items[n:]...)
	return nil
}

func (q *inMemoryIntentQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *inMemoryIntentQueue) Capacity() int {
	return q.capacity
}

func (q *inMemoryIntentQueue) Close() error {
	return nil
}
