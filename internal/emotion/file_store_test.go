package emotion

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileEntryStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")
	store, err := NewFileEntryStore(path)
	if err != nil {
		t.Fatalf("new file entry store failed: %v", err)
	}
	saved, created, err := store.SaveBatch(context.Background(), []WriteIntent{
		emotionIntent(t, "fs_1", EmotionPayload{Emotion: EmotionInput{ColorHex: "#336699"}}),
	})
	if err != nil {
		t.Fatalf("save batch failed: %v", err)
	}
	if saved != 1 || len(created) != 1 {
		t.Fatalf("expected 1 persisted entry, got saved=%d created=%d", saved, len(created))
	}

	reopened, err := NewFileEntryStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	page, err := reopened.ListEntries(context.Background(), "", 20)
	if err != nil {
		t.Fatalf("list after reopen failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 entry after reopen, got %d", len(page.Items))
	}
	if page.Items[0].ColorHex != "#336699" {
		t.Fatalf("expected restored color #336699, got %s", page.Items[0].ColorHex)
	}
}

func TestFileEntryStoreKeepsDedupStateAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")
	store, err := NewFileEntryStore(path)
	if err != nil {
		t.Fatalf("new file entry store failed: %v", err)
	}
	intent := emotionIntent(t, "fs_retry", EmotionPayload{})
	if _, _, err := store.SaveBatch(context.Background(), []WriteIntent{intent}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	reopened, err := NewFileEntryStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	saved, created, err := reopened.SaveBatch(context.Background(), []WriteIntent{intent})
	if err != nil {
		t.Fatalf("retry save failed: %v", err)
	}
	if saved != 1 || len(created) != 0 {
		t.Fatalf("expected retry counted without new rows, got saved=%d created=%d", saved, len(created))
	}
	page, err := reopened.ListEntries(context.Background(), "", 20)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected single entry after replayed intent, got %d", len(page.Items))
	}
}
