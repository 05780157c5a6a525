// Package batch provides the sharded two-phase harness the pipeline stages
// share: fetch a bounded candidate set, split it into shards, and process
// each shard concurrently against its own isolated dependency scope.
package batch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Processor handles one candidate. A fresh Processor is constructed per
// shard, so implementations may hold per-shard mutable state (client
// handles, caches) without synchronization.
type Processor[T any] interface {
	Process(ctx context.Context, item T) error
}

// Job describes one sharded run.
type Job[T any] struct {
	// Name appears in log lines.
	Name string

	// MaxRecords caps the candidate set.
	MaxRecords int

	// ShardSize is the number of candidates per shard.
	ShardSize int

	// Fetch returns up to limit candidates, in a stable order.
	Fetch func(ctx context.Context, limit int) ([]T, error)

	// NewScope constructs an isolated Processor for one shard.
	NewScope func() Processor[T]
}

// Summary reports the outcome of a run.
type Summary struct {
	Fetched   int `json:"fetched"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Run executes the job: one goroutine per shard, each with its own scope.
// A failing item is logged and counted; it never aborts its shard or any
// other shard. The returned error covers only fetch failures and context
// cancellation.
func Run[T any](ctx context.Context, logger zerolog.Logger, job Job[T]) (Summary, error) {
	if job.ShardSize <= 0 {
		return Summary{}, fmt.Errorf("batch %s: shard size must be positive", job.Name)
	}

	items, err := job.Fetch(ctx, job.MaxRecords)
	if err != nil {
		return Summary{}, fmt.Errorf("batch %s: fetch candidates: %w", job.Name, err)
	}
	summary := Summary{Fetched: len(items)}
	if len(items) == 0 {
		return summary, nil
	}

	shards := split(items, job.ShardSize)
	results := make([]Summary, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			scope := job.NewScope()
			for _, item := range shard {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := scope.Process(gctx, item); err != nil {
					logger.Error().Err(err).Str("job", job.Name).Int("shard", i).Msg("item failed")
					results[i].Failed++
					continue
				}
				results[i].Succeeded++
			}
			return nil
		})
	}
	err = g.Wait()

	for _, r := range results {
		summary.Succeeded += r.Succeeded
		summary.Failed += r.Failed
	}
	logger.Info().Str("job", job.Name).
		Int("fetched", summary.Fetched).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("batch run complete")
	return summary, err
}

func split[T any](items []T, shardSize int) [][]T {
	var shards [][]T
	for start := 0; start < len(items); start += shardSize {
		end := start + shardSize
		if end > len(items) {
			end = len(items)
		}
		shards = append(shards, items[start:end])
	}
	return shards
}
