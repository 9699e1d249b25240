// Package migrate copies stored scan results from one storage to another.
package migrate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/yourorg/scancache/internal/model"
)

// Source is read with ReadStored so results reach the target in the form
// they were stored, without read-time patches.
type Source interface {
	ListPackages(ctx context.Context) []model.Identifier
	ReadStored(ctx context.Context, id model.Identifier) model.ScanResultContainer
}

type Target interface {
	Add(ctx context.Context, id model.Identifier, result model.ScanResult) bool
}

// Report counts what a run did. Results refused by the target, whether by its
// write gate or because it could not be reached, are counted as Failed.
type Report struct {
	Packages  int
	Empty     int
	Processed int
	Stored    int
	Failed    int
}

type Options struct {
	// Concurrency bounds how many identifiers are copied at once. Each
	// identifier is handled by a single goroutine, so results for the same
	// identifier are never written concurrently.
	Concurrency int
	Logger      *log.Logger
}

// Run copies every result of every package listed by src into dst. It stops
// scheduling new packages when ctx is cancelled and returns ctx.Err() after
// in-flight packages finish.
func Run(ctx context.Context, src Source, dst Target, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	ids := src.ListPackages(ctx)
	logger.Info("migrating scan results", "packages", len(ids), "concurrency", concurrency)

	var (
		empty, processed, stored, failed atomic.Int64
		wg                               sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

loop:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id model.Identifier) {
			defer wg.Done()
			defer func() { <-sem }()

			c := src.ReadStored(ctx, id)
			if c.IsEmpty() {
				empty.Add(1)
				logger.Debug("no results to migrate", "id", id.String())
				return
			}
			for _, r := range c.Results {
				processed.Add(1)
				if dst.Add(ctx, id, r) {
					stored.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}(id)
	}
	wg.Wait()

	rep := Report{
		Packages:  len(ids),
		Empty:     int(empty.Load()),
		Processed: int(processed.Load()),
		Stored:    int(stored.Load()),
		Failed:    int(failed.Load()),
	}
	logger.Info("migration complete",
		"packages", rep.Packages, "processed", rep.Processed, "stored", rep.Stored, "failed", rep.Failed)
	return rep, ctx.Err()
}
