package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/luweisystem/reflectsync/internal/capturesync"
	"github.com/luweisystem/reflectsync/internal/emotion"
)

func main() {
	baseURL := flag.String("base-url", strings.TrimSpace(os.Getenv("REFLECTSYNC_BASE_URL")), "reflectsync server base URL")
	apiKey := flag.String("api-key", strings.TrimSpace(os.Getenv("REFLECTSYNC_API_KEY")), "ingest API key")
	dataDir := flag.String("data-dir", envOrDefault("REFLECTSYNC_DATA_DIR", ".reflectsync"), "local state directory")
	queueDSN := flag.String("queue", strings.TrimSpace(os.Getenv("REFLECTSYNC_QUEUE_DSN")), "intent queue DSN (defaults to a file queue under data-dir)")
	queueCapacity := flag.Int("queue-capacity", intEnv("REFLECTSYNC_QUEUE_CAPACITY", 0), "maximum queued intents (0 for the default)")
	startDelay := flag.Duration("start-delay", durationEnv("REFLECTSYNC_START_DELAY", 1500*time.Millisecond), "delay before the first flush attempt")
	interval := flag.Duration("interval", durationEnv("REFLECTSYNC_FLUSH_INTERVAL", 30*time.Second), "flush interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("REFLECTSYNC_FLUSH_INTERVAL_JITTER", 0.2), "flush interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("REFLECTSYNC_FLUSH_TIMEOUT", 15*time.Second), "per-flush timeout")
	capture := flag.String("capture", "", "capture an emotion payload (JSON object, or - to read stdin) and enqueue it")
	once := flag.Bool("once", false, "run one flush cycle and exit")
	flag.Parse()

	if *interval <= 0 {
		*interval = 30 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	if strings.TrimSpace(*queueDSN) == "" {
		*queueDSN = filepath.Join(*dataDir, "queue.json")
	}
	queue, err := emotion.BuildIntentQueueFromDSN(*queueDSN, *queueCapacity)
	if err != nil {
		log.Fatalf("failed to initialize intent queue: %v", err)
	}
	if queue == nil {
		queue = emotion.NewInMemoryIntentQueue(*queueCapacity)
	}
	defer queue.Close()

	reflections, err := capturesync.NewReflectionLog(filepath.Join(*dataDir, "reflections.json"))
	if err != nil {
		log.Fatalf("failed to open reflection log: %v", err)
	}

	client := capturesync.NewHTTPClient(capturesync.HTTPClientOptions{
		BaseURL:    *baseURL,
		APIKey:     *apiKey,
		HTTPClient: &http.Client{Timeout: *timeout},
		UserAgent:  "reflectsync-agent",
		LocalFeed:  reflections.Recent,
	})
	if !client.Configured() {
		log.Printf("no base URL or API key configured, running in local-only mode")
	}

	if *capture != "" {
		if err := captureIntent(queue, reflections, *capture); err != nil {
			log.Fatalf("capture failed: %v", err)
		}
		log.Printf("captured emotion intent (queue depth %d)", queue.Depth())
		if !*once {
			return
		}
	}

	coordinator, err := capturesync.NewCoordinator(queue, client, log.Default())
	if err != nil {
		log.Fatalf("failed to initialize sync coordinator: %v", err)
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := coordinator.FlushOnce(ctx); err != nil {
			log.Fatalf("flush cycle failed: %v", err)
		}
		return
	}

	online := make(chan struct{}, 1)
	go feedTicks(rootCtx, online, *interval, *intervalJitter)
	coordinator.Run(rootCtx, capturesync.TriggerPolicy{
		StartDelay: *startDelay,
		Online:     online,
	})
}

func captureIntent(queue emotion.IntentQueue, reflections *capturesync.ReflectionLog, raw string) error {
	if raw == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		raw = string(data)
	}
	var payload emotion.EmotionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	intent, err := emotion.NewEmotionIntent(payload)
	if err != nil {
		return err
	}
	if err := queue.Enqueue(intent); err != nil {
		return err
	}
	colorHex := payload.Emotion.ColorHex
	if colorHex == "" {
		colorHex = emotion.DefaultColorHex
	}
	intensity := emotion.DefaultIntensity
	if payload.Emotion.Intensity != nil {
		intensity = *payload.Emotion.Intensity
	}
	note := ""
	if s, ok := payload.Emotion.Note.(string); ok {
		note = s
	}
	if err := reflections.Append(colorHex, intensity, note, time.Now()); err != nil {
		log.Printf("failed to record local reflection: %v", err)
	}
	return nil
}

func feedTicks(ctx context.Context, online chan<- struct{}, interval time.Duration, jitterRatio float64) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitterRatio, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			select {
			case online <- struct{}{}:
			default:
			}
			timer.Reset(jitteredIntervalWithSample(interval, jitterRatio, rng.Float64()))
		}
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
