package audit

import "time"

// TimelineFilters holds the filters of the audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	Outcome  string
	Page     int
	PageSize int
}

// TimelineRow is one entry of the audit timeline.
type TimelineRow struct {
	ID       int64
	At       time.Time
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Outcome  string
	Reason   string
	Meta     map[string]any
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}
