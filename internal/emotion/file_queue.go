package emotion

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type fileIntentQueue struct {
	path     string
	capacity int

	mu    sync.Mutex
	items []WriteIntent

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

type fileIntentQueueState struct {
	Items []WriteIntent `json:"items"`
}

// NewFileIntentQueue opens a durable queue whose snapshot lives in a single
// JSON file, rewritten atomically on every mutation. The queue watches its own
// file and reloads when another process rewrites it, so two agents sharing a
// queue file converge instead of silently overwriting each other.
func NewFileIntentQueue(path string, capacity int) (IntentQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = 1024
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	q := &fileIntentQueue{
		path:     path,
		capacity: capacity,
		items:    []WriteIntent{},
		done:     make(chan struct{}),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	q.watcher = watcher
	go q.watchLoop()
	return q, nil
}

func (q *fileIntentQueue) Enqueue(item WriteIntent) error {
	if strings.TrimSpace(item.Type) == "" {
		return ErrInvalidInput
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, stampIntent(item))
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return err
	}
	return nil
}

func (q *fileIntentQueue) Snapshot() []WriteIntent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]WriteIntent(nil), q.items...)
}

func (q *fileIntentQueue) Clear(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	remaining := append([]WriteIntent(nil), q.items[n:]...)
	previous := q.items
	q.items = remaining
	if err := q.saveLocked(); err != nil {
		q.items = previous
		return err
	}
	return nil
}

func (q *fileIntentQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileIntentQueue) Capacity() int {
	return q.capacity
}

func (q *fileIntentQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		if q.watcher != nil {
			err = q.watcher.Close()
		}
	})
	return err
}

func (q *fileIntentQueue) watchLoop() {
	for {
		select {
		case <-q.done:
			return
		case event, ok := <-q.watcher.Events:
			if !ok {
				return
			}
			if event.Name != q.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			_ = q.load()
		case _, ok := <-q.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (q *fileIntentQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileIntentQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Items) > q.capacity {
		q.items = append([]WriteIntent(nil), snapshot.Items[len(snapshot.Items)-q.capacity:]...)
		return q.saveLocked()
	}
	q.items = append([]WriteIntent(nil), snapshot.Items...)
	return nil
}

func (q *fileIntentQueue) saveLocked() error {
	snapshot := fileIntentQueueState{
		Items: append([]WriteIntent(nil), q.items...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
