package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// PgRepository reads audit_logs from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineSelect = `SELECT id, occurred_at, actor_id, action, entity, entity_id, outcome, reason, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
  AND ($7::text IS NULL OR outcome = $7)
ORDER BY occurred_at DESC, id DESC`

func (p QueryParams) args() []any {
	return []any{p.FromAt, p.ToAt, p.ActorID, p.Entity, p.EntityID, p.Action, p.Outcome}
}

// TimelineWindow returns one window of the timeline.
func (r *PgRepository) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	args := append(arg.args(), arg.OffsetRows, arg.LimitRows)
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, timelineSelect+`
OFFSET $8 LIMIT $9`, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// TimelineAll returns every matching entry.
func (r *PgRepository) TimelineAll(ctx context.Context, arg QueryParams) ([]TimelineRow, error) {
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, timelineSelect, arg.args()...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			out  TimelineRow
			meta []byte
		)
		if err := row.Scan(&out.ID, &out.At, &out.ActorID, &out.Action, &out.Entity, &out.EntityID, &out.Outcome, &out.Reason, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, err
			}
		}
		return out, nil
	})
}
