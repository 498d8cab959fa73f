/**
 * Configuration for the Alignment Verification Worker
 *
 * Loads configuration from environment variables matching .env.align
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL  string
	QueueName string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant glyph index configuration
	QdrantURL        string
	QdrantCollection string

	// Service URLs
	LayoutServiceURL        string
	TranscriptionServiceURL string

	// Rendering configuration
	FontPath string

	// Tesseract configuration
	TesseractLanguage string

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int64 // per-column timeout, milliseconds

	// Engine tunables
	QualityThreshold float64
	MaxIterations    int
	ScorerWorkers    int
	GlyphScore       float64 // minimum cell similarity for glyph indexing
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                getEnvOrDefault("REDIS_URL", "redis://align-redis:6379"),
		QueueName:               getEnvOrDefault("QUEUE_NAME", "alignment:jobs"),
		DatabaseURL:             getEnvOrThrow("DATABASE_URL"),
		QdrantURL:               getEnvOrDefault("QDRANT_URL", "align-qdrant:6334"),
		QdrantCollection:        getEnvOrDefault("QDRANT_COLLECTION", "verified_glyphs"),
		LayoutServiceURL:        getEnvOrDefault("LAYOUT_SERVICE_URL", "http://align-layout:8080"),
		TranscriptionServiceURL: getEnvOrDefault("TRANSCRIPTION_SERVICE_URL", ""),
		FontPath:                getEnvOrThrow("FONT_PATH"),
		TesseractLanguage:       getEnvOrDefault("TESSERACT_LANGUAGE", "chi_tra_vert"),
		WorkerConcurrency:       getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout:       getEnvAsInt64OrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		QualityThreshold:        getEnvAsFloatOrDefault("QUALITY_THRESHOLD", 0.85),
		MaxIterations:           getEnvAsIntOrDefault("MAX_ITERATIONS", 5),
		ScorerWorkers:           getEnvAsIntOrDefault("SCORER_WORKERS", 4),
		GlyphScore:              getEnvAsFloatOrDefault("GLYPH_INDEX_SCORE", 0.9),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.FontPath == "" {
		return fmt.Errorf("FONT_PATH is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.QualityThreshold <= 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("QUALITY_THRESHOLD must be in (0, 1], got %f", c.QualityThreshold)
	}

	if c.MaxIterations < 1 || c.MaxIterations > 20 {
		return fmt.Errorf("MAX_ITERATIONS must be between 1 and 20, got %d", c.MaxIterations)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or returns error
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
