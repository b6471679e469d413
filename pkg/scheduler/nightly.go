package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/barekit/vitrine/pkg/profile"
)

// NightlyJobName is the name of the index refresh job.
const NightlyJobName = "nightly-sync"

// Indexer rebuilds the vector indexes from the catalog. *profile.Builder
// implements it.
type Indexer interface {
	SyncContent(ctx context.Context, limit int) (profile.Report, error)
	BuildAesthetic(ctx context.Context, limit int) (profile.Report, error)
	BuildVisual(ctx context.Context, limit int) (profile.Report, error)
}

// NightlyConfig sets the per-index product limits. A negative limit skips
// that index; zero uses the builder default.
type NightlyConfig struct {
	ContentLimit   int
	AestheticLimit int
	VisualLimit    int
	// AfterSync runs once every index step succeeded, e.g. to drop cached
	// answers built on the old indexes.
	AfterSync func(ctx context.Context) error
	Logger    *slog.Logger
}

// NightlyJob syncs product pages, then rebuilds the aesthetic and visual
// profiles. A failing step does not stop later ones; the job reports all
// failures together.
func NightlyJob(ix Indexer, cfg NightlyConfig) Job {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	type step struct {
		limit int
		build func(context.Context, int) (profile.Report, error)
	}
	steps := []step{
		{cfg.ContentLimit, ix.SyncContent},
		{cfg.AestheticLimit, ix.BuildAesthetic},
		{cfg.VisualLimit, ix.BuildVisual},
	}

	return Job{
		Name: NightlyJobName,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, st := range steps {
				if st.limit < 0 {
					continue
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				report, err := st.build(ctx, st.limit)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", report.Index, err))
					continue
				}
				logger.Info("index refreshed",
					"index", report.Index,
					"products", report.Products,
					"indexed", report.Indexed,
					"skipped", report.Skipped,
					"failed", report.Failed)
			}
			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			if cfg.AfterSync != nil {
				return cfg.AfterSync(ctx)
			}
			return nil
		},
	}
}
