// Package config loads the pipeline's environment-driven configuration,
// generalizing the inline getRedisConfig/getChromaConfig helpers the teacher
// repo keeps in internal/server/server.go into one place.
package config

import (
	"os"
	"strconv"
)

// Config holds every environment-tunable knob named in spec §6.
type Config struct {
	DataDir string

	TikaServerURL   string
	OllamaAPIURL    string
	OllamaModelName string

	ChromaHost     string
	ChromaPort     int
	ChromaTenant   string
	ChromaDatabase string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	WorkerConcurrency int
	ChunkSize         int
	ChunkOverlap      int
}

// Load reads configuration from the environment, applying the defaults named
// in SPEC_FULL.md §6. Call godotenv.Load() before Load if a .env file should
// be honored (done once in cmd/kb-pipeline, matching cmd/grok-server/main.go).
func Load() *Config {
	return &Config{
		DataDir: getenv("KB_DATA_DIR", "./data"),

		TikaServerURL:   getenv("TIKA_SERVER_URL", "http://localhost:9998"),
		OllamaAPIURL:    getenv("OLLAMA_API_URL", "http://localhost:11434"),
		OllamaModelName: getenv("OLLAMA_MODEL_NAME", "bge-m3"),

		ChromaHost:     getenv("CHROMA_HOST", "localhost"),
		ChromaPort:     getenvInt("CHROMA_PORT", 8000),
		ChromaTenant:   getenv("CHROMA_TENANT", "default_tenant"),
		ChromaDatabase: getenv("CHROMA_DATABASE", "default_database"),

		RedisHost:     getenv("REDIS_HOST", "localhost"),
		RedisPort:     getenvInt("REDIS_PORT", 6379),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		WorkerConcurrency: getenvInt("KB_WORKER_CONCURRENCY", 3),
		ChunkSize:         getenvInt("KB_CHUNK_SIZE", 3000),
		ChunkOverlap:      getenvInt("KB_CHUNK_OVERLAP", 500),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
