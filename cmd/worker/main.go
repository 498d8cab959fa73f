/**
 * Alignment Verification Worker - Main Entry Point
 *
 * Go worker that cross-checks OCR transcriptions of vertically-read document
 * columns by re-rendering each column's glyphs over the source raster.
 *
 * Architecture:
 * - Asynq consumer for Redis-backed column and report tasks
 * - Placement optimization + per-character similarity scoring (SSIM/NCC/density)
 * - Anomaly detection with iterative OCR re-query correction
 * - PostgreSQL persistence for versioned column records and document reports
 * - Qdrant glyph index fed by converged, high-confidence characters
 *
 * Correction Candidate Cascade:
 * 1. Transcription service re-query (context-aware, preferred)
 * 2. Verified-glyph index lookup (substitutions only)
 * 3. Local Tesseract fallback
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/clients"
	"github.com/zupu/alignworker/internal/config"
	"github.com/zupu/alignworker/internal/ocr"
	"github.com/zupu/alignworker/internal/processor"
	"github.com/zupu/alignworker/internal/queue"
	"github.com/zupu/alignworker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.align"); err != nil {
		log.Printf("Warning: .env.align not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Alignment Verification Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, PostgreSQL=%s, Qdrant=%s, Workers=%d",
		cfg.RedisURL, cfg.DatabaseURL, cfg.QdrantURL, cfg.WorkerConcurrency)

	// Initialize unified storage manager (PostgreSQL + Qdrant)
	log.Printf("Connecting to storage (PostgreSQL + Qdrant)...")
	storageManager, err := storage.NewStorageManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	defer storageManager.Close()
	log.Printf("Storage manager initialized (PostgreSQL + Qdrant)")

	// Load the rendering font
	rasterizer, err := align.LoadFontRasterizer(cfg.FontPath)
	if err != nil {
		log.Fatalf("Failed to load rendering font %s: %v", cfg.FontPath, err)
	}
	log.Printf("Rendering font loaded: %s", cfg.FontPath)

	// Build the correction candidate cascade. The transcription service is
	// preferred; the glyph index covers substitutions from previously verified
	// documents; local Tesseract is the last resort.
	var sources []align.CandidateSource
	if cfg.TranscriptionServiceURL != "" {
		sources = append(sources, ocr.NewClient(cfg.TranscriptionServiceURL))
		log.Printf("Transcription service re-query enabled: %s", cfg.TranscriptionServiceURL)
	} else {
		log.Printf("Transcription service re-query disabled (no URL configured)")
	}
	sources = append(sources, storageManager.NewGlyphCandidateSource(0))
	sources = append(sources, ocr.NewTesseractSource(&ocr.TesseractSourceConfig{
		Language: cfg.TesseractLanguage,
	}))
	candidateSource := ocr.NewChain(sources...)

	// Initialize the alignment engine
	engineCfg := align.DefaultConfig()
	engineCfg.QualityThreshold = cfg.QualityThreshold
	engineCfg.MaxIterations = cfg.MaxIterations
	engineCfg.Scorer.Workers = cfg.ScorerWorkers
	engine := align.NewEngine(engineCfg, rasterizer, candidateSource)
	log.Printf("Alignment engine initialized (threshold=%.2f, maxIterations=%d)",
		engineCfg.QualityThreshold, engineCfg.MaxIterations)

	// Initialize column processor
	columnClient := clients.NewColumnClient(cfg.LayoutServiceURL)
	proc, err := processor.NewColumnProcessor(&processor.ProcessorConfig{
		Source:     columnClient,
		Store:      storageManager,
		Engine:     engine,
		EngineCfg:  engineCfg,
		GlyphScore: cfg.GlyphScore,
	})
	if err != nil {
		log.Fatalf("Failed to initialize column processor: %v", err)
	}
	log.Printf("Column processor initialized")

	// Verify collaborators before accepting work. A failure is a warning, not
	// fatal: the queue retries tasks, so the worker may come up first.
	if err := healthCheck(storageManager, columnClient); err != nil {
		log.Printf("Warning: startup health check failed: %v", err)
	} else {
		log.Printf("Collaborator health checks passed")
	}

	// Initialize document progress tracking
	progress, err := queue.NewProgressTracker(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize progress tracker: %v", err)
	}
	defer progress.Close()

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	queueConsumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:         cfg.RedisURL,
		QueueName:        cfg.QueueName,
		Concurrency:      cfg.WorkerConcurrency,
		Processor:        proc,
		Progress:         progress,
		AlignmentTimeout: cfg.ProcessingTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}
	log.Printf("Queue consumer initialized with concurrency=%d", cfg.WorkerConcurrency)

	// Start queue consumer
	ctx := context.Background()
	if err := queueConsumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	// Print startup summary
	log.Printf("===========================================")
	log.Printf("Alignment Verification Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Quality Threshold: %.2f", cfg.QualityThreshold)
	log.Printf("Max Iterations per Column: %d", cfg.MaxIterations)
	log.Printf("Per-Column Timeout: %dms", cfg.ProcessingTimeout)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	// Stop queue consumer
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := queueConsumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	// Close storage manager
	log.Printf("Closing storage manager...")
	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}

// healthCheck verifies the worker's backing services are reachable
func healthCheck(sm *storage.StorageManager, layout *clients.ColumnClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sm.Ping(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	if err := layout.HealthCheck(ctx); err != nil {
		return fmt.Errorf("layout service health check failed: %w", err)
	}

	return nil
}
