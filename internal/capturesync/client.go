package capturesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/luweisystem/reflectsync/internal/emotion"
)

var ErrRequestFailed = errors.New("request failed")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrRequestFailed
}

type BatchResult struct {
	OK    bool   `json:"ok"`
	Saved int    `json:"saved"`
	Dummy bool   `json:"dummy,omitempty"`
	Error string `json:"error,omitempty"`
}

// RemoteClient submits queued write intents and reads the public feed.
type RemoteClient interface {
	PostBatch(ctx context.Context, items []emotion.WriteIntent) (BatchResult, error)
	FetchFeed(ctx context.Context, cursor string, limit int) (emotion.FeedPage, error)
}

// LocalFeedFunc supplies recently captured reflections for the degraded mode,
// newest first.
type LocalFeedFunc func(limit int) []emotion.EmotionEntry

type HTTPClientOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// LocalFeed backs FetchFeed while the client is unconfigured.
	LocalFeed LocalFeedFunc
}

// HTTPClient talks to the ingest/feed endpoints. With no base URL or API key
// configured it degrades to local-only behavior: PostBatch reports success
// without a network call and FetchFeed serves the local reflection log. That
// keeps demo setups working with zero remote configuration.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	localFeed  LocalFeedFunc
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		localFeed:  opts.LocalFeed,
	}
}

// Configured reports whether the client has a remote endpoint and credential.
func (c *HTTPClient) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *HTTPClient) PostBatch(ctx context.Context, items []emotion.WriteIntent) (BatchResult, error) {
	if !c.Configured() {
		return BatchResult{OK: true, Saved: len(items), Dummy: true}, nil
	}
	var out BatchResult
	if err := c.doJSON(ctx, http.MethodPost, "/emotion-batch", items, &out); err != nil {
		return BatchResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) FetchFeed(ctx context.Context, cursor string, limit int) (emotion.FeedPage, error) {
	if !c.Configured() {
		if limit <= 0 {
			limit = 24
		}
		items := []emotion.EmotionEntry{}
		if c.localFeed != nil {
			items = c.localFeed(limit)
		}
		return emotion.FeedPage{Items: items, NextCursor: nil, Dummy: true}, nil
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if strings.TrimSpace(cursor) != "" {
		q.Set("cursor", strings.TrimSpace(cursor))
	}
	requestPath := "/explore-feed"
	if encoded := q.Encode(); encoded != "" {
		requestPath += "?" + encoded
	}
	var out emotion.FeedPage
	if err := c.doJSON(ctx, http.MethodGet, requestPath, nil, &out); err != nil {
		return emotion.FeedPage{}, err
	}
	return out, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("apikey", c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := strings.TrimSpace(errPayload.Error)
		if message == "" {
			message = strings.TrimSpace(string(payloadBytes))
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
