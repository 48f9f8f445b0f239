package emotion

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildIntentQueueFromDSNSelectsBackend(t *testing.T) {
	queue, err := BuildIntentQueueFromDSN("memory://", 4)
	if err != nil {
		t.Fatalf("memory queue failed: %v", err)
	}
	if _, ok := queue.(*inMemoryIntentQueue); !ok {
		t.Fatalf("expected in-memory queue, got %T", queue)
	}

	path := filepath.Join(t.TempDir(), "queue.json")
	queue, err = BuildIntentQueueFromDSN(path, 4)
	if err != nil {
		t.Fatalf("file queue from bare path failed: %v", err)
	}
	defer queue.Close()
	if _, ok := queue.(*fileIntentQueue); !ok {
		t.Fatalf("expected file queue, got %T", queue)
	}
}

func TestBuildIntentQueueFromDSNEmptyMeansNone(t *testing.T) {
	queue, err := BuildIntentQueueFromDSN("   ", 4)
	if err != nil {
		t.Fatalf("expected no error for empty DSN, got %v", err)
	}
	if queue != nil {
		t.Fatalf("expected nil queue for empty DSN, got %T", queue)
	}
}

func TestBuildIntentQueueFromDSNReportsUnimplementedBrokers(t *testing.T) {
	for _, dsn := range []string{"redis://localhost:6379/0", "nats://localhost:4222", "sqs://queue"} {
		_, err := BuildIntentQueueFromDSN(dsn, 4)
		if !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("%s: expected ErrNotImplemented, got %v", dsn, err)
		}
	}
}

func TestBuildEntryStoreFromDSNSelectsBackend(t *testing.T) {
	store, err := BuildEntryStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory store failed: %v", err)
	}
	if _, ok := store.(*MemoryEntryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	store, err = BuildEntryStoreFromDSN(filepath.Join(t.TempDir(), "entries.json"))
	if err != nil {
		t.Fatalf("file store from bare path failed: %v", err)
	}
	if _, ok := store.(*FileEntryStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}

	if _, err := BuildEntryStoreFromDSN("sqlite:///tmp/reflect.db"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for sqlite, got %v", err)
	}
	if _, err := BuildEntryStoreFromDSN("carrierpigeon://coop"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}

func TestRegisteredFactoryOverridesBuiltin(t *testing.T) {
	marker := NewInMemoryIntentQueue(2)
	RegisterIntentQueueFactory("testqueue", func(dsn string, capacity int) (IntentQueue, error) {
		return marker, nil
	})
	queue, err := BuildIntentQueueFromDSN("testqueue://anything", 4)
	if err != nil {
		t.Fatalf("registered factory failed: %v", err)
	}
	if queue != marker {
		t.Fatalf("expected registry-provided queue instance")
	}

	store := NewMemoryEntryStore()
	RegisterEntryStoreFactory("teststore", func(dsn string) (EntryStore, error) {
		return store, nil
	})
	built, err := BuildEntryStoreFromDSN("teststore://anything")
	if err != nil {
		t.Fatalf("registered store factory failed: %v", err)
	}
	if built != EntryStore(store) {
		t.Fatalf("expected registry-provided store instance")
	}
}
