package capturesync

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luweisystem/reflectsync/internal/emotion"
)

func TestReflectionLogRecentReturnsNewestFirst(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reflections.json")
	reflections, err := NewReflectionLog(logPath)
	if err != nil {
		t.Fatalf("new reflection log failed: %v", err)
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, note := range []string{"first", "second", "third"} {
		if err := reflections.Append("#101010", 30+i, note, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("append %q failed: %v", note, err)
		}
	}

	entries := reflections.Recent(2)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Note != "third" || entries[1].Note != "second" {
		t.Fatalf("expected newest first, got %q then %q", entries[0].Note, entries[1].Note)
	}
	if !entries[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected capture timestamp preserved, got %s", entries[0].CreatedAt)
	}
}

func TestReflectionLogPersistsAcrossReopen(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reflections.json")
	reflections, err := NewReflectionLog(logPath)
	if err != nil {
		t.Fatalf("new reflection log failed: %v", err)
	}
	if err := reflections.Append("#CFE8FF", 40, "kept", time.Now()); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened, err := NewReflectionLog(logPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	entries := reopened.Recent(0)
	if len(entries) != 1 || entries[0].Note != "kept" {
		t.Fatalf("expected persisted reflection, got %+v", entries)
	}
}

func TestReflectionLogTruncatesLongNotes(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reflections.json")
	reflections, err := NewReflectionLog(logPath)
	if err != nil {
		t.Fatalf("new reflection log failed: %v", err)
	}
	long := strings.Repeat("y", emotion.MaxNoteLength+30)
	if err := reflections.Append("#101010", 40, long, time.Now()); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	entries := reflections.Recent(1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := len([]rune(entries[0].Note)); got != emotion.MaxNoteLength {
		t.Fatalf("expected note truncated to %d runes, got %d", emotion.MaxNoteLength, got)
	}
}

func TestReflectionLogEvictsPastCap(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reflections.json")
	reflections, err := NewReflectionLog(logPath)
	if err != nil {
		t.Fatalf("new reflection log failed: %v", err)
	}
	reflections.limit = 3
	for i := 0; i < 5; i++ {
		if err := reflections.Append("#101010", i, "", time.Now()); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	entries := reflections.Recent(10)
	if len(entries) != 3 {
		t.Fatalf("expected cap of 3 reflections, got %d", len(entries))
	}
	if entries[0].Intensity != 4 || entries[2].Intensity != 2 {
		t.Fatalf("expected newest three reflections, got %+v", entries)
	}
}
