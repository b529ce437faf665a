package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/authzcore/internal/inventory"
	jobmetrics "github.com/odyssey-erp/authzcore/internal/jobs"
)

// StockReconciler recomputes stock from movements.
type StockReconciler interface {
	Reconcile(ctx context.Context, fix bool) (inventory.ReconcileReport, error)
}

// StockReconcileJob handles TaskStockReconcile.
type StockReconcileJob struct {
	Inventory StockReconciler
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewStockReconcileJob wires dependencies for the reconcile handler.
func NewStockReconcileJob(inv StockReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	return &StockReconcileJob{Inventory: inv, Logger: logger, Metrics: metrics}
}

// Handle processes stock reconcile tasks.
func (j *StockReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Inventory == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	var payload StockReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskStockReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Inventory.Reconcile(ctx, payload.Fix)
	if err != nil {
		j.logger().Error("stock reconcile", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDrift(len(report.Drifts)-report.Fixed, false)
	j.Metrics.AddDrift(report.Fixed, true)
	for _, drift := range report.Drifts {
		j.logger().Info("stock drift",
			slog.Int64("product_id", drift.ProductID),
			slog.Int64("recorded", drift.Recorded),
			slog.Int64("computed", drift.Computed))
	}
	j.logger().Info("stock reconcile completed",
		slog.Bool("fix", payload.Fix),
		slog.Int("checked", report.Checked),
		slog.Int("drifts", len(report.Drifts)),
		slog.Int("fixed", report.Fixed))
	return nil
}

func (j *StockReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
