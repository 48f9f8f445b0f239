package emotion

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrQueueFull      = errors.New("queue full")
	ErrNotImplemented = errors.New("not implemented")
)

// EntryStore persists sessions and their dependent emotion entries and serves
// the reverse-chronological feed over the entries.
type EntryStore interface {
	// SaveBatch persists one Session plus one EmotionEntry per accepted item.
	// Items whose type is not "emotion" are skipped without error. Returns the
	// count of fully persisted items and the entry rows created by this call.
	SaveBatch(ctx context.Context, items []WriteIntent) (int, []EmotionEntry, error)
	// ListEntries returns entries strictly older than cursor (all entries when
	// cursor is empty), newest first, at most limit rows.
	ListEntries(ctx context.Context, cursor string, limit int) (FeedPage, error)
	Close() error
}

type MemoryStoreOptions struct {
	// Now overrides the ingestion clock. Tests use it to seed entries at
	// distinct timestamps.
	Now func() time.Time
}

type MemoryEntryStore struct {
	mu            sync.RWMutex
	sessions      []Session
	entries       []EmotionEntry
	seenIntents   map[string]struct{}
	nextSessionID int64
	nextEntryID   int64
	now           func() time.Time
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return NewMemoryEntryStoreWithOptions(MemoryStoreOptions{})
}

func NewMemoryEntryStoreWithOptions(opts MemoryStoreOptions) *MemoryEntryStore {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryEntryStore{
		seenIntents:   map[string]struct{}{},
		nextSessionID: 1,
		nextEntryID:   1,
		now:           now,
	}
}

func (s *MemoryEntryStore) SaveBatch(ctx context.Context, items []WriteIntent) (int, []EmotionEntry, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	created := []EmotionEntry{}
	for _, item := range items {
		if item.Type != IntentTypeEmotion {
			continue
		}
		session, entry := normalizeEmotionIntent(item, s.now().UTC())
		if session.IntentID != "" {
			if _, seen := s.seenIntents[session.IntentID]; seen {
				saved++
				continue
			}
		}
		session.ID = s.nextSessionID
		s.nextSessionID++
		entry.ID = s.nextEntryID
		s.nextEntryID++
		entry.SessionID = session.ID
		s.sessions = append(s.sessions, session)
		s.entries = append(s.entries, entry)
		if session.IntentID != "" {
			s.seenIntents[session.IntentID] = struct{}{}
		}
		created = append(created, entry)
		saved++
	}
	return saved, created, nil
}

func (s *MemoryEntryStore) ListEntries(ctx context.Context, cursor string, limit int) (FeedPage, error) {
	if err := ctx.Err(); err != nil {
		return FeedPage{}, err
	}
	bound, hasBound, err := parseFeedCursor(cursor)
	if err != nil {
		return FeedPage{}, err
	}
	limit = clampFeedLimit(limit)

	s.mu.RLock()
	ordered := append([]EmotionEntry(nil), s.entries...)
	s.mu.RUnlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].ID > ordered[j].ID
	})

	items := []EmotionEntry{}
	for _, entry := range ordered {
		if hasBound && !entry.CreatedAt.Before(bound) {
			continue
		}
		items = append(items, entry)
		if len(items) == limit {
			break
		}
	}
	return feedPageOf(items, limit), nil
}

func (s *MemoryEntryStore) Close() error {
	return nil
}

// SessionCount reports the number of persisted session rows.
func (s *MemoryEntryStore) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EntryCount reports the number of persisted emotion entry rows.
func (s *MemoryEntryStore) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SessionByID returns a persisted session row.
func (s *MemoryEntryStore) SessionByID(id int64) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.ID == id {
			return session, true
		}
	}
	return Session{}, false
}

// feedPageOf fills NextCursor from the oldest returned entry, but only when
// the page is full; a short page signals end-of-feed with a null cursor.
func feedPageOf(items []EmotionEntry, limit int) FeedPage {
	page := FeedPage{Items: items}
	if len(items) == limit && len(items) > 0 {
		next := formatFeedCursor(items[len(items)-1].CreatedAt)
		page.NextCursor = &next
	}
	return page
}

func (s *MemoryEntryStore) snapshotLocked() memorySnapshot {
	seen := make([]string, 0, len(s.seenIntents))
	for intentID := range s.seenIntents {
		seen = append(seen, intentID)
	}
	sort.Strings(seen)
	return memorySnapshot{
		Sessions:      append([]Session(nil), s.sessions...),
		Entries:       append([]EmotionEntry(nil), s.entries...),
		SeenIntents:   seen,
		NextSessionID: s.nextSessionID,
		NextEntryID:   s.nextEntryID,
	}
}

func (s *MemoryEntryStore) restore(snapshot memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append([]Session(nil), snapshot.Sessions...)
	s.entries = append([]EmotionEntry(nil), snapshot.Entries...)
	s.seenIntents = map[string]struct{}{}
	for _, intentID := range snapshot.SeenIntents {
		s.seenIntents[intentID] = struct{}{}
	}
	s.nextSessionID = snapshot.NextSessionID
	if s.nextSessionID <= 0 {
		s.nextSessionID = 1
	}
	s.nextEntryID = snapshot.NextEntryID
	if s.nextEntryID <= 0 {
		s.nextEntryID = 1
	}
}

type memorySnapshot struct {
	Sessions      []Session      `json:"sessions"`
	Entries       []EmotionEntry `json:"entries"`
	SeenIntents   []string       `json:"seenIntents,omitempty"`
	NextSessionID int64          `json:"nextSessionId"`
	NextEntryID   int64          `json:"nextEntryId"`
}
