package emotion

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildIntentQueueFromDSN selects a queue backend by DSN scheme: a bare path
// or file:// path for the durable file queue, memory:// for tests and demos,
// postgres:// for a shared multi-process queue.
func BuildIntentQueueFromDSN(dsn string, capacity int) (IntentQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupIntentQueueFactory(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileIntentQueue(path, capacity)
	case "memory", "mem", "inmem":
		return NewInMemoryIntentQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresIntentQueue(dsn, capacity)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: intent queue backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported intent queue scheme: %s", scheme)
	}
}

// BuildEntryStoreFromDSN selects the entry store backend by DSN scheme.
func BuildEntryStoreFromDSN(dsn string) (EntryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupEntryStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileEntryStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryEntryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresEntryStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: entry store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported entry store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
