package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/luweisystem/reflectsync/internal/emotion"
	"github.com/luweisystem/reflectsync/internal/httpapi"
)

func main() {
	addr := os.Getenv("REFLECTSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	store, err := buildEntryStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize entry store: %v", err)
	}
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		APIKey:          strings.TrimSpace(os.Getenv("REFLECTSYNC_API_KEY")),
		RateLimitMax:    intEnv("REFLECTSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("REFLECTSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("REFLECTSYNC_MAX_BODY_BYTES", 0),
	})

	log.Printf("reflectsync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildEntryStoreFromEnv() (emotion.EntryStore, error) {
	dsn, err := storeDSNFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := emotion.BuildEntryStoreFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return emotion.NewMemoryEntryStore(), nil
	}
	return store, nil
}

func storeDSNFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("REFLECTSYNC_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("REFLECTSYNC_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".reflectsync"
	}
	switch profile {
	case "", "custom":
		return strings.TrimSpace(os.Getenv("REFLECTSYNC_STORE_DSN")), nil
	case "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable":
		return filepath.Join(dataDir, "entries.json"), nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("REFLECTSYNC_PRODUCTION_DSN"))
		if productionDSN == "" {
			productionDSN = strings.TrimSpace(os.Getenv("REFLECTSYNC_POSTGRES_DSN"))
		}
		if productionDSN == "" {
			return "", fmt.Errorf("REFLECTSYNC_PRODUCTION_DSN or REFLECTSYNC_POSTGRES_DSN is required when REFLECTSYNC_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, nil
	default:
		return "", fmt.Errorf("unsupported REFLECTSYNC_BACKEND_PROFILE: %s", profile)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
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

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
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
