package audit

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// ExportService is the contract for the CSV export of the audit timeline.
type ExportService interface {
	ExportTimeline(ctx context.Context, w io.Writer, filters TimelineFilters) (int, error)
}

const csvFlushEvery = 200

var csvHeader = []string{"occurred_at", "actor_id", "action", "entity", "entity_id", "outcome", "reason", "meta"}

// ExportTimeline streams every matching entry as CSV and returns the number of rows written.
func (s *Service) ExportTimeline(ctx context.Context, w io.Writer, filters TimelineFilters) (int, error) {
	rows, err := s.Export(ctx, filters)
	if err != nil {
		return 0, err
	}
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	if err := writer.Write(csvHeader); err != nil {
		return 0, err
	}
	for i, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return i, err
			}
			meta = string(raw)
		}
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Entity,
			row.EntityID,
			row.Outcome,
			row.Reason,
			meta,
		}
		if err := writer.Write(record); err != nil {
			return i, err
		}
		if (i+1)%csvFlushEvery == 0 {
			writer.Flush()
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return len(rows), err
	}
	return len(rows), buf.Flush()
}
