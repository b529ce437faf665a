package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockReconcile recomputes product stock from the movement ledger.
	TaskStockReconcile = "stock:reconcile"
	// TaskRBACCacheInvalidate drops cached permission sets.
	TaskRBACCacheInvalidate = "rbac:cache-invalidate"
)

// StockReconcilePayload selects between a report-only run and a corrective run.
type StockReconcilePayload struct {
	Fix bool `json:"fix"`
}

// NewStockReconcileTask constructs a stock reconcile task.
func NewStockReconcileTask(fix bool) (*asynq.Task, error) {
	body, err := json.Marshal(StockReconcilePayload{Fix: fix})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// CacheInvalidatePayload names the principal whose permission set is dropped.
// A zero PrincipalID drops every cached set.
type CacheInvalidatePayload struct {
	PrincipalID int64  `json:"principal_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// NewCacheInvalidateTask constructs a permission cache invalidation task.
func NewCacheInvalidateTask(principalID int64, reason string) (*asynq.Task, error) {
	body, err := json.Marshal(CacheInvalidatePayload{PrincipalID: principalID, Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACCacheInvalidate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
