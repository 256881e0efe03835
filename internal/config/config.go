package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	RedisURL        string
	APIBaseURL      string
	AuthorID        string
	ProjectSlug     string
	DocumentSlug    string
	DraftCapacity   int
	DraftByteBudget int64
	SaveTimeout     time.Duration
	Development     bool
}

func Load() Config {
	return Config{
		RedisURL:        getenv("INKWELL_REDIS_URL", "redis://localhost:6379/0"),
		APIBaseURL:      getenv("INKWELL_API_URL", "http://localhost:8787"),
		AuthorID:        getenv("INKWELL_AUTHOR_ID", ""),
		ProjectSlug:     getenv("INKWELL_PROJECT", ""),
		DocumentSlug:    getenv("INKWELL_DOCUMENT", ""),
		DraftCapacity:   getenvInt("INKWELL_DRAFT_CAPACITY", 50),
		DraftByteBudget: int64(getenvInt("INKWELL_DRAFT_BYTE_BUDGET", 4<<20)),
		SaveTimeout:     time.Duration(getenvInt("INKWELL_SAVE_TIMEOUT_SECONDS", 15)) * time.Second,
		Development:     getenv("INKWELL_ENV", "production") == "development",
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
