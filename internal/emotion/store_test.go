package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func emotionIntent(t *testing.T, intentID string, payload EmotionPayload) WriteIntent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return WriteIntent{
		IntentID: intentID,
		Type:     IntentTypeEmotion,
		Payload:  raw,
	}
}

func seededClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		ts := current
		current = current.Add(step)
		return ts
	}
}

func TestSaveBatchAppliesDefaultsAndLinksRows(t *testing.T) {
	store := NewMemoryEntryStore()
	saved, created, err := store.SaveBatch(context.Background(), []WriteIntent{
		emotionIntent(t, "int_1", EmotionPayload{}),
	})
	if err != nil {
		t.Fatalf("save batch failed: %v", err)
	}
	if saved != 1 || len(created) != 1 {
		t.Fatalf("expected 1 saved entry, got saved=%d created=%d", saved, len(created))
	}

	entry := created[0]
	if entry.ColorHex != DefaultColorHex {
		t.Fatalf("expected default color %s, got %s", DefaultColorHex, entry.ColorHex)
	}
	if entry.Intensity != DefaultIntensity {
		t.Fatalf("expected default intensity %d, got %d", DefaultIntensity, entry.Intensity)
	}
	if entry.Note != "" {
		t.Fatalf("expected empty note, got %q", entry.Note)
	}
	session, ok := store.SessionByID(entry.SessionID)
	if !ok {
		t.Fatalf("expected session %d for entry %d", entry.SessionID, entry.ID)
	}
	if session.RoutineSlug != DefaultRoutineSlug {
		t.Fatalf("expected default routine slug %s, got %s", DefaultRoutineSlug, session.RoutineSlug)
	}
	if session.Device != DefaultDevice {
		t.Fatalf("expected default device %s, got %s", DefaultDevice, session.Device)
	}
	if session.UserID != nil {
		t.Fatalf("expected nil user id, got %v", *session.UserID)
	}
	if session.EndedAt.IsZero() || entry.CreatedAt.IsZero() {
		t.Fatalf("expected server-side timestamps to be populated")
	}
}

func TestSaveBatchSkipsNonEmotionItems(t *testing.T) {
	store := NewMemoryEntryStore()
	items := []WriteIntent{
		{Type: "journal", Payload: json.RawMessage(`{"text":"hi"}`)},
		emotionIntent(t, "int_a", EmotionPayload{Emotion: EmotionInput{ColorHex: "#112233"}}),
		{Type: "telemetry"},
		emotionIntent(t, "int_b", EmotionPayload{Emotion: EmotionInput{ColorHex: "#445566"}}),
	}
	saved, created, err := store.SaveBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("save batch failed: %v", err)
	}
	if saved != 2 {
		t.Fatalf("expected 2 saved, got %d", saved)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 created entries, got %d", len(created))
	}
	if store.SessionCount() != 2 || store.EntryCount() != 2 {
		t.Fatalf("expected 2 sessions and 2 entries, got %d/%d", store.SessionCount(), store.EntryCount())
	}
}

func TestSaveBatchCoercesAndTruncatesNote(t *testing.T) {
	store := NewMemoryEntryStore()
	long := strings.Repeat("x", MaxNoteLength+50)
	items := []WriteIntent{
		emotionIntent(t, "n_long", EmotionPayload{Emotion: EmotionInput{Note: long}}),
		emotionIntent(t, "n_num", EmotionPayload{Emotion: EmotionInput{Note: 12.5}}),
	}
	_, created, err := store.SaveBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("save batch failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(created))
	}
	if got := len([]rune(created[0].Note)); got != MaxNoteLength {
		t.Fatalf("expected note truncated to %d runes, got %d", MaxNoteLength, got)
	}
	if created[1].Note != "12.5" {
		t.Fatalf("expected non-string note coerced to %q, got %q", "12.5", created[1].Note)
	}
}

func TestSaveBatchDeduplicatesByIntentID(t *testing.T) {
	store := NewMemoryEntryStore()
	intent := emotionIntent(t, "retry_1", EmotionPayload{Emotion: EmotionInput{ColorHex: "#ABCDEF"}})

	saved, _, err := store.SaveBatch(context.Background(), []WriteIntent{intent})
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if saved != 1 {
		t.Fatalf("expected 1 saved on first attempt, got %d", saved)
	}

	saved, created, err := store.SaveBatch(context.Background(), []WriteIntent{intent})
	if err != nil {
		t.Fatalf("retry save failed: %v", err)
	}
	if saved != 1 {
		t.Fatalf("expected retry to count 1 saved, got %d", saved)
	}
	if len(created) != 0 {
		t.Fatalf("expected no new rows on retry, got %d", len(created))
	}
	if store.SessionCount() != 1 || store.EntryCount() != 1 {
		t.Fatalf("expected single session/entry after retry, got %d/%d", store.SessionCount(), store.EntryCount())
	}
}

func TestListEntriesPaginatesDescendingWithoutGapsOrDuplicates(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryEntryStoreWithOptions(MemoryStoreOptions{Now: seededClock(start, time.Second)})

	total := 30
	for i := 0; i < total; i++ {
		intent := emotionIntent(t, fmt.Sprintf("page_%02d", i), EmotionPayload{
			Emotion: EmotionInput{Note: fmt.Sprintf("entry-%02d", i)},
		})
		if _, _, err := store.SaveBatch(context.Background(), []WriteIntent{intent}); err != nil {
			t.Fatalf("seed save failed: %v", err)
		}
	}

	first, err := store.ListEntries(context.Background(), "", 20)
	if err != nil {
		t.Fatalf("first page failed: %v", err)
	}
	if len(first.Items) != 20 {
		t.Fatalf("expected 20 items on first page, got %d", len(first.Items))
	}
	if first.NextCursor == nil {
		t.Fatalf("expected nextCursor on full first page")
	}
	for i := 1; i < len(first.Items); i++ {
		if first.Items[i].CreatedAt.After(first.Items[i-1].CreatedAt) {
			t.Fatalf("expected descending created_at order at index %d", i)
		}
	}

	second, err := store.ListEntries(context.Background(), *first.NextCursor, 20)
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if len(second.Items) != 10 {
		t.Fatalf("expected 10 items on second page, got %d", len(second.Items))
	}
	if second.NextCursor != nil {
		t.Fatalf("expected null nextCursor on final short page, got %q", *second.NextCursor)
	}

	seen := map[int64]struct{}{}
	for _, entry := range append(first.Items, second.Items...) {
		if _, dup := seen[entry.ID]; dup {
			t.Fatalf("entry %d appeared on both pages", entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct entries across pages, got %d", total, len(seen))
	}
}

func TestListEntriesClampsLimit(t *testing.T) {
	start := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryEntryStoreWithOptions(MemoryStoreOptions{Now: seededClock(start, time.Second)})
	for i := 0; i < 60; i++ {
		intent := emotionIntent(t, fmt.Sprintf("clamp_%02d", i), EmotionPayload{})
		if _, _, err := store.SaveBatch(context.Background(), []WriteIntent{intent}); err != nil {
			t.Fatalf("seed save failed: %v", err)
		}
	}

	page, err := store.ListEntries(context.Background(), "", 500)
	if err != nil {
		t.Fatalf("list with oversized limit failed: %v", err)
	}
	if len(page.Items) != 50 {
		t.Fatalf("expected limit clamped to 50, got %d items", len(page.Items))
	}

	page, err = store.ListEntries(context.Background(), "", -3)
	if err != nil {
		t.Fatalf("list with negative limit failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected limit clamped to 1, got %d items", len(page.Items))
	}
}

func TestListEntriesRejectsInvalidCursor(t *testing.T) {
	store := NewMemoryEntryStore()
	_, err := store.ListEntries(context.Background(), "yesterday-ish", 20)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed cursor, got %v", err)
	}
}

func TestFeedPageOfOmitsCursorForShortPage(t *testing.T) {
	entries := []EmotionEntry{{ID: 1, CreatedAt: time.Now()}}
	page := feedPageOf(entries, 20)
	if page.NextCursor != nil {
		t.Fatalf("expected nil cursor for short page, got %q", *page.NextCursor)
	}
	page = feedPageOf(entries, 1)
	if page.NextCursor == nil {
		t.Fatalf("expected cursor for full page")
	}
}
