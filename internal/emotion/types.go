package emotion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	IntentTypeEmotion = "emotion"

	DefaultRoutineSlug = "unknown"
	DefaultDevice      = "web"
	DefaultColorHex    = "#CFE8FF"
	DefaultIntensity   = 40
	MaxNoteLength      = 200
)

// WriteIntent is one queued, not-yet-confirmed capture destined for remote
// persistence. Payload shape depends on Type; for "emotion" intents it decodes
// to sessionInput + emotionInput.
type WriteIntent struct {
	IntentID  string          `json:"intentId,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"createdAt,omitempty"`
}

type EmotionPayload struct {
	Session SessionInput `json:"session"`
	Emotion EmotionInput `json:"emotion"`
}

type SessionInput struct {
	UserID          *string `json:"user_id,omitempty"`
	RoutineSlug     string  `json:"routine_slug,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	Device          string  `json:"device,omitempty"`
}

type EmotionInput struct {
	ColorHex  string `json:"color_hex,omitempty"`
	Intensity *int   `json:"intensity,omitempty"`
	Note      any    `json:"note,omitempty"`
}

// Session is one completed routine playback; created once at ingest, never
// updated or deleted by this subsystem.
type Session struct {
	ID              int64     `json:"id"`
	IntentID        string    `json:"intent_id,omitempty"`
	UserID          *string   `json:"user_id"`
	RoutineSlug     string    `json:"routine_slug"`
	DurationSeconds *int      `json:"duration_seconds"`
	Device          string    `json:"device"`
	EndedAt         time.Time `json:"ended_at"`
}

// EmotionEntry is one reflection, owned by exactly one Session. CreatedAt is
// the feed's pagination cursor.
type EmotionEntry struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	ColorHex  string    `json:"color_hex"`
	Intensity int       `json:"intensity"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type FeedPage struct {
	Items      []EmotionEntry `json:"items"`
	NextCursor *string        `json:"nextCursor"`
	Dummy      bool           `json:"dummy,omitempty"`
}

// normalizeEmotionIntent decodes an emotion payload leniently (missing or
// malformed sub-objects fall back to defaults) and produces the row pair to
// persist. The returned entry has no SessionID yet; the store links it after
// the session row exists.
func normalizeEmotionIntent(item WriteIntent, now time.Time) (Session, EmotionEntry) {
	var payload struct {
		Session json.RawMessage `json:"session"`
		Emotion json.RawMessage `json:"emotion"`
	}
	_ = json.Unmarshal(item.Payload, &payload)
	var sess SessionInput
	_ = json.Unmarshal(payload.Session, &sess)
	var emo EmotionInput
	_ = json.Unmarshal(payload.Emotion, &emo)

	routineSlug := strings.TrimSpace(sess.RoutineSlug)
	if routineSlug == "" {
		routineSlug = DefaultRoutineSlug
	}
	device := strings.TrimSpace(sess.Device)
	if device == "" {
		device = DefaultDevice
	}
	colorHex := strings.TrimSpace(emo.ColorHex)
	if colorHex == "" {
		colorHex = DefaultColorHex
	}
	intensity := DefaultIntensity
	if emo.Intensity != nil {
		intensity = *emo.Intensity
	}

	session := Session{
		IntentID:        strings.TrimSpace(item.IntentID),
		UserID:          sess.UserID,
		RoutineSlug:     routineSlug,
		DurationSeconds: sess.DurationSeconds,
		Device:          device,
		EndedAt:         now,
	}
	entry := EmotionEntry{
		ColorHex:  colorHex,
		Intensity: intensity,
		Note:      truncateNote(coerceNote(emo.Note)),
		CreatedAt: now,
	}
	return session, entry
}

func coerceNote(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func truncateNote(note string) string {
	runes := []rune(note)
	if len(runes) <= MaxNoteLength {
		return note
	}
	return string(runes[:MaxNoteLength])
}

func clampFeedLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	if limit > 50 {
		return 50
	}
	return limit
}

func parseFeedCursor(cursor string) (time.Time, bool, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid cursor", ErrInvalidInput)
	}
	return ts, true, nil
}

func formatFeedCursor(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
