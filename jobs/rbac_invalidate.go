package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/authzcore/internal/jobs"
)

// PermissionCache drops cached permission sets.
type PermissionCache interface {
	InvalidatePrincipal(ctx context.Context, principalID int64) error
	InvalidateAll(ctx context.Context) error
}

// CacheInvalidateJob handles TaskRBACCacheInvalidate.
type CacheInvalidateJob struct {
	Cache   PermissionCache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheInvalidateJob wires dependencies for the invalidation handler.
func NewCacheInvalidateJob(cache PermissionCache, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheInvalidateJob {
	return &CacheInvalidateJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes cache invalidation tasks.
func (j *CacheInvalidateJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cache == nil {
		return errors.New("rbac cache invalidate: handler not configured")
	}
	var payload CacheInvalidatePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskRBACCacheInvalidate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("principal_id", payload.PrincipalID), slog.String("reason", payload.Reason))
	var err error
	if payload.PrincipalID > 0 {
		err = j.Cache.InvalidatePrincipal(ctx, payload.PrincipalID)
	} else {
		err = j.Cache.InvalidateAll(ctx)
	}
	if err != nil {
		logger.Error("rbac cache invalidate", slog.Any("error", err))
		return err
	}
	logger.Info("rbac cache invalidated")
	return nil
}

func (j *CacheInvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
