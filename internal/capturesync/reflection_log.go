package capturesync

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/luweisystem/reflectsync/internal/emotion"
)

const defaultReflectionLogLimit = 200

// ReflectionLog keeps the most recent locally captured reflections in a JSON
// file, so the explore view has something to show while no remote endpoint is
// configured.
type ReflectionLog struct {
	path  string
	limit int

	mu    sync.Mutex
	items []loggedReflection
}

type loggedReflection struct {
	Color     string `json:"color"`
	Intensity int    `json:"intensity"`
	Note      string `json:"note"`
	TS        int64  `json:"ts"`
}

type reflectionLogState struct {
	Items []loggedReflection `json:"items"`
}

func NewReflectionLog(path string) (*ReflectionLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, emotion.ErrInvalidInput
	}
	l := &ReflectionLog{
		path:  path,
		limit: defaultReflectionLogLimit,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Append records one captured reflection, evicting the oldest past the cap.
// Notes are truncated to the same length the remote side enforces, so the
// degraded-mode feed matches what ingest would have stored.
func (l *ReflectionLog) Append(colorHex string, intensity int, note string, capturedAt time.Time) error {
	if runes := []rune(note); len(runes) > emotion.MaxNoteLength {
		note = string(runes[:emotion.MaxNoteLength])
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, loggedReflection{
		Color:     colorHex,
		Intensity: intensity,
		Note:      note,
		TS:        capturedAt.UnixMilli(),
	})
	if len(l.items) > l.limit {
		l.items = append([]loggedReflection(nil), l.items[len(l.items)-l.limit:]...)
	}
	return l.saveLocked()
}

// Recent returns up to n reflections as feed entries, newest first.
func (l *ReflectionLog) Recent(n int) []emotion.EmotionEntry {
	if n <= 0 {
		n = 24
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.items) - n
	if start < 0 {
		start = 0
	}
	recent := l.items[start:]
	entries := make([]emotion.EmotionEntry, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		item := recent[i]
		entries = append(entries, emotion.EmotionEntry{
			ColorHex:  item.Color,
			Intensity: item.Intensity,
			Note:      item.Note,
			CreatedAt: time.UnixMilli(item.TS).UTC(),
		})
	}
	return entries
}

func (l *ReflectionLog) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state reflectionLogState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.items = append([]loggedReflection(nil), state.Items...)
	return nil
}

func (l *ReflectionLog) saveLocked() error {
	state := reflectionLogState{
		Items: append([]loggedReflection(nil), l.items...),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
