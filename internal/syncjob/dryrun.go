package syncjob

import (
	"context"
	"log/slog"
	"time"
)

// DryRunTarget is the TargetClient used when no marketplace connector is
// configured: every stage logs and succeeds. Lets the orchestration core run
// end to end against real schedules and catalogs without touching a platform.
type DryRunTarget struct {
	Logger  *slog.Logger
	Latency time.Duration // optional simulated call latency
}

func (t *DryRunTarget) stage(ctx context.Context, name string, item Item, target string) error {
	if t.Latency > 0 {
		select {
		case <-time.After(t.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.Logger.Debug("dry-run stage",
		"stage", name,
		"item_id", item.ID,
		"target", target)
	return nil
}

func (t *DryRunTarget) Validate(ctx context.Context, item Item, target string) error {
	return t.stage(ctx, "validate", item, target)
}

func (t *DryRunTarget) TransformPricing(ctx context.Context, item Item, target string) error {
	return t.stage(ctx, "transform_pricing", item, target)
}

func (t *DryRunTarget) Upload(ctx context.Context, item Item, target string) error {
	return t.stage(ctx, "upload", item, target)
}
