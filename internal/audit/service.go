package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// WindowParams selects one page of the timeline.
type WindowParams struct {
	QueryParams
	OffsetRows int32
	LimitRows  int32
}

// QueryParams carries the optional filters of a timeline query.
type QueryParams struct {
	FromAt   pgtype.Timestamptz
	ToAt     pgtype.Timestamptz
	ActorID  pgtype.Int8
	Entity   pgtype.Text
	EntityID pgtype.Text
	Action   pgtype.Text
	Outcome  pgtype.Text
}

// Repository provides the timeline queries.
type Repository interface {
	TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error)
	TimelineAll(ctx context.Context, arg QueryParams) ([]TimelineRow, error)
}

// Result wraps a timeline page with its paging info.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}

// Service reads the audit trail.
type Service struct {
	repo Repository
}

// NewService builds the timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.TimelineWindow(ctx, WindowParams{
		QueryParams: queryParams(filters),
		OffsetRows:  int32(offset),
		LimitRows:   int32(pageSize + 1),
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.TimelineAll(ctx, queryParams(filters))
}

func queryParams(filters TimelineFilters) QueryParams {
	params := QueryParams{
		FromAt:   toPgTime(filters.From),
		ToAt:     toPgTime(filters.To),
		Entity:   optionalText(filters.Entity),
		EntityID: optionalText(filters.EntityID),
		Action:   optionalText(strings.ToUpper(filters.Action)),
		Outcome:  optionalText(strings.ToUpper(filters.Outcome)),
	}
	if filters.ActorID > 0 {
		params.ActorID = pgtype.Int8{Int64: filters.ActorID, Valid: true}
	}
	return params
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
