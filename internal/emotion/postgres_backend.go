package emotion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresSessionTableName     = "session"
	postgresEntryTableName       = "emotion_entry"
	postgresIntentQueueTableName = "reflect_intent_queue"
	postgresQueueKey             = "default"
	postgresOperationTimeout     = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresEntryStore persists sessions and emotion entries in Postgres. Each
// accepted batch item runs as one transaction: the session insert and its
// dependent entry insert commit together or not at all. Items committed before
// a failing one stay persisted; the request-level error is the caller's to
// surface.
type PostgresEntryStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresEntryStore(dsn string) (*PostgresEntryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresEntryStore{
		dsn:    dsn,
		openDB: sql.Open,
	}, nil
}

func (s *PostgresEntryStore) SaveBatch(ctx context.Context, items []WriteIntent) (int, []EmotionEntry, error) {
	if err := s.ensureReady(); err != nil {
		return 0, nil, err
	}
	saved := 0
	created := []EmotionEntry{}
	for _, item := range items {
		if item.Type != IntentTypeEmotion {
			continue
		}
		entry, inserted, err := s.saveOne(ctx, item)
		if err != nil {
			return saved, created, err
		}
		if inserted {
			created = append(created, entry)
		}
		saved++
	}
	return saved, created, nil
}

func (s *PostgresEntryStore) saveOne(ctx context.Context, item WriteIntent) (EmotionEntry, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(opCtx, nil)
	if err != nil {
		return EmotionEntry{}, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	session, entry := normalizeEmotionIntent(item, time.Now().UTC())
	var intentID any
	if session.IntentID != "" {
		intentID = session.IntentID
	}
	insertSession := fmt.Sprintf(`
		INSERT INTO %s (intent_id, user_id, routine_slug, duration_seconds, device, ended_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (intent_id) DO NOTHING
		RETURNING id`, postgresQuoteIdentifier(postgresSessionTableName))
	var sessionID int64
	err = tx.QueryRowContext(opCtx, insertSession,
		intentID, session.UserID, session.RoutineSlug, session.DurationSeconds, session.Device,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate intent: the row pair already exists from an earlier
		// delivery, count it without inserting again.
		if err := tx.Commit(); err != nil {
			return EmotionEntry{}, false, err
		}
		committed = true
		return EmotionEntry{}, false, nil
	}
	if err != nil {
		return EmotionEntry{}, false, err
	}

	insertEntry := fmt.Sprintf(`
		INSERT INTO %s (session_id, color_hex, intensity, note, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`, postgresQuoteIdentifier(postgresEntryTableName))
	err = tx.QueryRowContext(opCtx, insertEntry,
		sessionID, entry.ColorHex, entry.Intensity, entry.Note,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return EmotionEntry{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return EmotionEntry{}, false, err
	}
	committed = true
	entry.SessionID = sessionID
	return entry, true, nil
}

func (s *PostgresEntryStore) ListEntries(ctx context.Context, cursor string, limit int) (FeedPage, error) {
	if err := s.ensureReady(); err != nil {
		return FeedPage{}, err
	}
	bound, hasBound, err := parseFeedCursor(cursor)
	if err != nil {
		return FeedPage{}, err
	}
	limit = clampFeedLimit(limit)

	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, session_id, color_hex, intensity, note, created_at
		FROM %s
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, postgresQuoteIdentifier(postgresEntryTableName))
	args := []any{limit}
	if hasBound {
		query = fmt.Sprintf(`
			SELECT id, session_id, color_hex, intensity, note, created_at
			FROM %s
			WHERE created_at < $2
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, postgresQuoteIdentifier(postgresEntryTableName))
		args = append(args, bound)
	}

	rows, err := s.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return FeedPage{}, err
	}
	defer rows.Close()

	items := []EmotionEntry{}
	for rows.Next() {
		var entry EmotionEntry
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.ColorHex, &entry.Intensity, &entry.Note, &entry.CreatedAt); err != nil {
			return FeedPage{}, err
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return FeedPage{}, err
	}
	return feedPageOf(items, limit), nil
}

func (s *PostgresEntryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresEntryStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id BIGSERIAL PRIMARY KEY,
					intent_id TEXT UNIQUE,
					user_id TEXT,
					routine_slug TEXT NOT NULL,
					duration_seconds INTEGER,
					device TEXT NOT NULL,
					ended_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, postgresQuoteIdentifier(postgresSessionTableName)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id BIGSERIAL PRIMARY KEY,
					session_id BIGINT NOT NULL REFERENCES %s(id),
					color_hex TEXT NOT NULL,
					intensity INTEGER NOT NULL,
					note TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, postgresQuoteIdentifier(postgresEntryTableName), postgresQuoteIdentifier(postgresSessionTableName)),
			fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s (created_at DESC, id DESC)",
				postgresQuoteIdentifier(postgresEntryTableName+"_created_at_idx"),
				postgresQuoteIdentifier(postgresEntryTableName),
			),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

// PostgresIntentQueue is a capacity-bounded durable queue shared by any number
// of agent processes; an advisory transaction lock serializes writers.
type PostgresIntentQueue struct {
	dsn      string
	queueKey string
	capacity int
	openDB   sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresIntentQueue(dsn string, capacity int) (*PostgresIntentQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &PostgresIntentQueue{
		dsn:      dsn,
		queueKey: postgresQueueKey,
		capacity: capacity,
		openDB:   sql.Open,
	}, nil
}

func (q *PostgresIntentQueue) Enqueue(item WriteIntent) error {
	if strings.TrimSpace(item.Type) == "" {
		return ErrInvalidInput
	}
	if err := q.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(stampIntent(item))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", postgresQueueLockKey(postgresIntentQueueTableName, q.queueKey)); err != nil {
		return err
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", postgresQuoteIdentifier(postgresIntentQueueTableName))
	var depth int
	if err := tx.QueryRowContext(ctx, countQuery, q.queueKey).Scan(&depth); err != nil {
		return err
	}
	if depth >= q.capacity {
		return ErrQueueFull
	}
	insertQuery := fmt.Sprintf("INSERT INTO %s (queue_key, payload, created_at) VALUES ($1, $2, NOW())", postgresQuoteIdentifier(postgresIntentQueueTableName))
	if _, err := tx.ExecContext(ctx, insertQuery, q.queueKey, string(payload)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (q *PostgresIntentQueue) Snapshot() []WriteIntent {
	if err := q.ensureReady(); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE queue_key = $1 ORDER BY id ASC", postgresQuoteIdentifier(postgresIntentQueueTableName))
	rows, err := q.db.QueryContext(ctx, query, q.queueKey)
	if err != nil {
		return nil
	}
	defer rows.Close()

	items := []WriteIntent{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil
		}
		var item WriteIntent
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil
	}
	return items
}

func (q *PostgresIntentQueue) Clear(n int) error {
	if n <= 0 {
		return nil
	}
	if err := q.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s WHERE queue_key = $1 ORDER BY id ASC LIMIT $2
		)`,
		postgresQuoteIdentifier(postgresIntentQueueTableName),
		postgresQuoteIdentifier(postgresIntentQueueTableName),
	)
	_, err := q.db.ExecContext(ctx, query, q.queueKey, n)
	return err
}

func (q *PostgresIntentQueue) Depth() int {
	if err := q.ensureReady(); err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", postgresQuoteIdentifier(postgresIntentQueueTableName))
	var depth int
	if err := q.db.QueryRowContext(ctx, query, q.queueKey).Scan(&depth); err != nil {
		return 0
	}
	return depth
}

func (q *PostgresIntentQueue) Capacity() int {
	return q.capacity
}

func (q *PostgresIntentQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *PostgresIntentQueue) ensureReady() error {
	if q == nil {
		return ErrInvalidInput
	}
	q.initOnce.Do(func() {
		db, err := q.openDB("postgres", q.dsn)
		if err != nil {
			q.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		createTableQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				queue_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(postgresIntentQueueTableName))
		if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		createIndexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (queue_key, id)",
			postgresQuoteIdentifier(postgresIntentQueueTableName+"_queue_key_id_idx"),
			postgresQuoteIdentifier(postgresIntentQueueTableName),
		)
		if _, err := db.ExecContext(ctx, createIndexQuery); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		q.db = db
	})
	return q.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func postgresQueueLockKey(tableName, queueKey string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(tableName))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(queueKey))
	return int64(hasher.Sum64())
}
