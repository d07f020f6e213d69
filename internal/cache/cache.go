/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultDatasetListTTL = 5 * time.Minute
	DefaultReportTTL      = 24 * time.Hour
	DefaultRunSummaryTTL  = 1 * time.Hour
	DefaultSweepTTL       = 1 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeyDatasetList = "forgeplan:cache:datasets"
	KeyReport      = "forgeplan:cache:report:"      // + run_id
	KeyRunSummary  = "forgeplan:cache:run:"         // + run_id
	KeySweepResult = "forgeplan:cache:sweep:"       // + sweep_id
	KeyRunList     = "forgeplan:cache:run_list:"    // + dataset_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	DatasetListTTL time.Duration
	ReportTTL      time.Duration
	RunSummaryTTL  time.Duration
	SweepTTL       time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		DatasetListTTL: DefaultDatasetListTTL,
		ReportTTL:      DefaultReportTTL,
		RunSummaryTTL:  DefaultRunSummaryTTL,
		SweepTTL:       DefaultSweepTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Dataset caching methods

// CachedDataset represents a cached dataset record.
type CachedDataset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Products    int    `json:"products"`
	Periods     int    `json:"periods"`
	Machines    int    `json:"machines"`
	UpdatedAt   int64  `json:"updated_at"`
}

// GetDatasetList retrieves the cached list of datasets.
func (c *Cache) GetDatasetList(ctx context.Context) ([]CachedDataset, bool) {
	var datasets []CachedDataset
	found, err := c.get(ctx, KeyDatasetList, &datasets)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(datasets)).Msg("dataset list cache hit")
	return datasets, true
}

// SetDatasetList caches the list of datasets.
func (c *Cache) SetDatasetList(ctx context.Context, datasets []CachedDataset) error {
	c.logger.Debug().Int("count", len(datasets)).Msg("caching dataset list")
	return c.set(ctx, KeyDatasetList, datasets, c.config.DatasetListTTL)
}

// InvalidateDatasetList removes the dataset list from cache.
func (c *Cache) InvalidateDatasetList(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating dataset list cache")
	return c.delete(ctx, KeyDatasetList)
}

// Report caching methods

// GetReport retrieves a cached plan report by run ID. The report is stored
// as raw JSON so it can be served without a database round trip.
func (c *Cache) GetReport(ctx context.Context, runID string) (json.RawMessage, bool) {
	var report json.RawMessage
	found, err := c.get(ctx, KeyReport+runID, &report)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("run_id", runID).Msg("report cache hit")
	return report, true
}

// SetReport caches a plan report for a run.
func (c *Cache) SetReport(ctx context.Context, runID string, report json.RawMessage) error {
	c.logger.Debug().Str("run_id", runID).Msg("caching report")
	return c.set(ctx, KeyReport+runID, report, c.config.ReportTTL)
}

// InvalidateReport removes a report from cache.
func (c *Cache) InvalidateReport(ctx context.Context, runID string) error {
	c.logger.Debug().Str("run_id", runID).Msg("invalidating report cache")
	return c.delete(ctx, KeyReport+runID)
}

// Run summary caching methods

// CachedRunSummary represents the headline numbers of a completed run.
type CachedRunSummary struct {
	ID           string  `json:"id"`
	DatasetID    string  `json:"dataset_id"`
	Status       string  `json:"status"`
	SolverStatus string  `json:"solver_status"`
	Objective    float64 `json:"objective"`
	ServiceLevel float64 `json:"service_level"`
	TotalCost    float64 `json:"total_cost"`
}

// GetRunSummary retrieves a cached run summary by ID.
func (c *Cache) GetRunSummary(ctx context.Context, runID string) (*CachedRunSummary, bool) {
	var summary CachedRunSummary
	found, err := c.get(ctx, KeyRunSummary+runID, &summary)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("run_id", runID).Msg("run summary cache hit")
	return &summary, true
}

// SetRunSummary caches a run summary.
func (c *Cache) SetRunSummary(ctx context.Context, summary *CachedRunSummary) error {
	c.logger.Debug().Str("run_id", summary.ID).Msg("caching run summary")
	return c.set(ctx, KeyRunSummary+summary.ID, summary, c.config.RunSummaryTTL)
}

// InvalidateRunSummary removes a run summary from cache.
func (c *Cache) InvalidateRunSummary(ctx context.Context, runID string) error {
	c.logger.Debug().Str("run_id", runID).Msg("invalidating run summary cache")
	return c.delete(ctx, KeyRunSummary+runID)
}

// Sweep caching methods

// CachedSweepRow represents one grid point of a completed sweep.
type CachedSweepRow struct {
	Label        string  `json:"label"`
	SolverStatus string  `json:"solver_status"`
	Objective    float64 `json:"objective"`
	ServiceLevel float64 `json:"service_level"`
	TotalCost    float64 `json:"total_cost"`
}

// GetSweepRows retrieves cached sweep results by job ID.
func (c *Cache) GetSweepRows(ctx context.Context, sweepID string) ([]CachedSweepRow, bool) {
	var rows []CachedSweepRow
	found, err := c.get(ctx, KeySweepResult+sweepID, &rows)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("sweep_id", sweepID).Int("count", len(rows)).Msg("sweep cache hit")
	return rows, true
}

// SetSweepRows caches sweep results for a job.
func (c *Cache) SetSweepRows(ctx context.Context, sweepID string, rows []CachedSweepRow) error {
	c.logger.Debug().Str("sweep_id", sweepID).Int("count", len(rows)).Msg("caching sweep results")
	return c.set(ctx, KeySweepResult+sweepID, rows, c.config.SweepTTL)
}

// InvalidateSweep removes sweep results from cache.
func (c *Cache) InvalidateSweep(ctx context.Context, sweepID string) error {
	c.logger.Debug().Str("sweep_id", sweepID).Msg("invalidating sweep cache")
	return c.delete(ctx, KeySweepResult+sweepID)
}

// Bulk invalidation methods

// InvalidateDataset removes all caches related to a dataset.
func (c *Cache) InvalidateDataset(ctx context.Context, datasetID string) error {
	c.logger.Debug().Str("dataset_id", datasetID).Msg("invalidating all dataset caches")

	if err := c.InvalidateDatasetList(ctx); err != nil {
		return err
	}

	return c.delete(ctx, KeyRunList+datasetID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "forgeplan:cache:*")
}
