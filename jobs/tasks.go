// Package jobs holds the background task definitions and the Asynq worker.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverrideExpiry sweeps expired permission overrides. Expiry is
	// lazy at read time; the sweep only keeps the table small.
	TaskOverrideExpiry = "overrides:expire"
	// TaskEntitlementWarmup precomputes entitlement snapshots for a set of
	// companies so the first request after an invalidation stays fast.
	TaskEntitlementWarmup = "entitlements:warmup"
)

// OverrideSweeper removes expired override rows.
type OverrideSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// SnapshotWarmer recomputes one company's entitlement snapshot.
type SnapshotWarmer interface {
	Warm(ctx context.Context, companyID int64) error
}

// EntitlementWarmupPayload names the companies to warm.
type EntitlementWarmupPayload struct {
	CompanyIDs []int64 `json:"companyIds"`
}

// NewOverrideExpiryTask constructs the sweep task. It carries no payload.
func NewOverrideExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskOverrideExpiry, nil)
}

// NewEntitlementWarmupTask constructs a warmup task.
func NewEntitlementWarmupTask(payload EntitlementWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEntitlementWarmup, data), nil
}

// OverrideExpiryHandler returns the handler for TaskOverrideExpiry.
func OverrideExpiryHandler(logger *slog.Logger, sweeper OverrideSweeper, metrics *Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("override_expiry")
		removed, err := sweeper.CleanupExpired(ctx)
		if err != nil {
			logger.Error("override expiry sweep", slog.Any("error", err))
			return tracker.End(err)
		}
		if removed > 0 {
			logger.Info("override expiry sweep", slog.Int64("removed", removed))
		}
		return tracker.End(nil)
	}
}

// EntitlementWarmupHandler returns the handler for TaskEntitlementWarmup.
func EntitlementWarmupHandler(logger *slog.Logger, warmer SnapshotWarmer, metrics *Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("entitlement_warmup")
		var payload EntitlementWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		for _, companyID := range payload.CompanyIDs {
			if err := warmer.Warm(ctx, companyID); err != nil {
				logger.Error("entitlement warmup",
					slog.Int64("company_id", companyID), slog.Any("error", err))
				return tracker.End(err)
			}
		}
		return tracker.End(nil)
	}
}
