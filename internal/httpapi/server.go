package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luweisystem/reflectsync/internal/emotion"
)

const allowedCORSHeaders = "authorization, x-client-info, apikey, content-type"

type ServerConfig struct {
	// APIKey, when set, must match the request's apikey header. Empty
	// disables the check for local development.
	APIKey          string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	store       emotion.EntryStore
	cfg         ServerConfig
	rateLimiter *rateLimiter
	live        *liveFeed
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store emotion.EntryStore) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store emotion.EntryStore, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		cfg:         cfg,
		rateLimiter: limiter,
		live:        newLiveFeed(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	switch r.URL.Path {
	case "/emotion-batch":
		setCORSHeaders(w, "POST, OPTIONS")
		switch r.Method {
		case http.MethodOptions:
			writePreflightOK(w)
		case http.MethodPost:
			s.handleEmotionBatch(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "/explore-feed":
		setCORSHeaders(w, "GET, OPTIONS")
		switch r.Method {
		case http.MethodOptions:
			writePreflightOK(w)
		case http.MethodGet:
			s.handleExploreFeed(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "/explore-feed/live":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleExploreFeedLive(w, r)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleEmotionBatch(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	// json.Unmarshal accepts "null" into a slice, so require the array
	// delimiter explicitly.
	if !bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("[")) {
		writeError(w, http.StatusBadRequest, "body must be a JSON array")
		return
	}
	var items []emotion.WriteIntent
	if err := json.Unmarshal(body, &items); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array")
		return
	}

	saved, created, err := s.store.SaveBatch(r.Context(), items)
	if err != nil {
		if errors.Is(err, emotion.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.live.broadcast(created)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": saved})
}

func (s *Server) handleExploreFeed(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 20, 1, 50)
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

	page, err := s.store.ListEntries(r.Context(), cursor, limit)
	if err != nil {
		if errors.Is(err, emotion.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	if r.Header.Get("apikey") != s.cfg.APIKey {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return false
	}
	return true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.rateLimiter == nil {
		return true
	}
	key := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		key = host
	}
	if !s.rateLimiter.allow(key, time.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", allowedCORSHeaders)
	w.Header().Set("Access-Control-Allow-Methods", methods)
}

func writePreflightOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": message,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.evictExpiredLocked(now)
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (r *rateLimiter) evictExpiredLocked(now time.Time) {
	for key, entry := range r.entries {
		if now.After(entry.resetAt) {
			delete(r.entries, key)
		}
	}
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return min
	}
	if parsed > max {
		return max
	}
	return parsed
}
