package finance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, error)
	Totals(ctx context.Context, filter SummaryFilter) ([]TotalRow, error)
}

// Service drives the financial movement state machine.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, policy: policy, logger: logger, now: time.Now}
}

// Get loads a movement.
func (s *Service) Get(ctx context.Context, id int64) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// Pay settles an OPEN movement. Non-positive amounts are refused before any status check.
func (s *Service) Pay(ctx context.Context, actorID, id int64) (Movement, error) {
	var out Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.LockMovement(ctx, id)
		if err != nil {
			return err
		}
		if !m.Amount.IsPositive() {
			return fmt.Errorf("finance: pay movement %d with amount %s: %w", id, m.Amount.StringFixed(2), shared.ErrInvalidAmount)
		}
		if err := CanTransition(m.Status, ActionPay, s.policy); err != nil {
			return err
		}
		paidAt := s.now().UTC()
		m.Status = StatusPaid
		m.PaidAt = &paidAt
		if out, err = tx.UpdateMovement(ctx, m); err != nil {
			return err
		}
		return s.record(ctx, actorID, "FIN_PAY", out, "")
	})
	if err != nil {
		return Movement{}, err
	}
	return out, nil
}

// Void cancels a movement. PAID movements are voidable only when the policy allows it.
func (s *Service) Void(ctx context.Context, actorID, id int64, reason string) (Movement, error) {
	var out Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.LockMovement(ctx, id)
		if err != nil {
			return err
		}
		if err := CanTransition(m.Status, ActionVoid, s.policy); err != nil {
			return err
		}
		if out, err = s.void(ctx, tx, m, reason); err != nil {
			return err
		}
		return s.record(ctx, actorID, "FIN_VOID", out, reason)
	})
	if err != nil {
		return Movement{}, err
	}
	return out, nil
}

// EnsurePayable creates the payable of a received purchase exactly once.
func (s *Service) EnsurePayable(ctx context.Context, purchaseID int64, amount decimal.Decimal) (Movement, bool, error) {
	return s.ensure(ctx, MovementPayable, SourcePurchase, purchaseID, amount)
}

// EnsureReceivable creates the receivable of a confirmed sale exactly once.
func (s *Service) EnsureReceivable(ctx context.Context, saleID int64, amount decimal.Decimal) (Movement, bool, error) {
	return s.ensure(ctx, MovementReceivable, SourceSale, saleID, amount)
}

// ensure upserts on (type, source type, source id). OPEN movements get their amount
// refreshed; PAID and VOID movements are returned unchanged.
func (s *Service) ensure(ctx context.Context, mType MovementType, sType SourceType, sourceID int64, amount decimal.Decimal) (Movement, bool, error) {
	if sourceID <= 0 {
		return Movement{}, false, fmt.Errorf("finance: source id required: %w", shared.ErrValidation)
	}
	if amount.IsNegative() {
		return Movement{}, false, fmt.Errorf("finance: %s amount %s: %w", strings.ToLower(string(mType)), amount.String(), shared.ErrInvalidAmount)
	}
	amount = Money(amount)
	var (
		out     Movement
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, inserted, err := tx.InsertMovement(ctx, Movement{
			Type:       mType,
			SourceType: sType,
			SourceID:   sourceID,
			Amount:     amount,
			Status:     StatusOpen,
			Notes:      fmt.Sprintf("Auto: %s #%d", sType, sourceID),
		})
		if err != nil {
			return err
		}
		created = inserted
		if inserted || m.Status != StatusOpen || m.Amount.Equal(amount) {
			out = m
			return nil
		}
		m.Amount = amount
		out, err = tx.UpdateMovement(ctx, m)
		return err
	})
	if err != nil {
		return Movement{}, false, err
	}
	return out, created, nil
}

// VoidForSource voids the movement generated by a source document. A missing or
// already VOID movement is a no-op; a PAID one cannot be voided this way.
func (s *Service) VoidForSource(ctx context.Context, mType MovementType, sType SourceType, sourceID int64, reason string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, found, err := tx.LockBySource(ctx, mType, sType, sourceID)
		if err != nil || !found {
			return err
		}
		switch m.Status {
		case StatusVoid:
			return nil
		case StatusPaid:
			return fmt.Errorf("finance: %s for %s #%d already paid: %w", strings.ToLower(string(mType)), sType, sourceID, shared.ErrInvalidState)
		}
		_, err = s.void(ctx, tx, m, reason)
		return err
	})
}

func (s *Service) void(ctx context.Context, tx TxRepository, m Movement, reason string) (Movement, error) {
	voidedAt := s.now().UTC()
	m.Status = StatusVoid
	m.PaidAt = nil
	m.VoidedAt = &voidedAt
	if reason = strings.TrimSpace(reason); reason != "" {
		m.Notes = truncateNotes(reason, maxNotesBytes)
	}
	return tx.UpdateMovement(ctx, m)
}

// Summary aggregates movements per type and status.
func (s *Service) Summary(ctx context.Context, filter SummaryFilter) (Summary, error) {
	rows, err := s.repo.Totals(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	zero := Money(decimal.Zero)
	sum := Summary{
		Payables:    Side{Open: Bucket{Amount: zero}, Paid: Bucket{Amount: zero}, Void: Bucket{Amount: zero}},
		Receivables: Side{Open: Bucket{Amount: zero}, Paid: Bucket{Amount: zero}, Void: Bucket{Amount: zero}},
	}
	for _, row := range rows {
		side := &sum.Payables
		if row.Type == MovementReceivable {
			side = &sum.Receivables
		}
		var bucket *Bucket
		switch row.Status {
		case StatusOpen:
			bucket = &side.Open
		case StatusPaid:
			bucket = &side.Paid
		case StatusVoid:
			bucket = &side.Void
		default:
			s.logger.Warn("finance summary: unknown status", slog.String("status", string(row.Status)))
			continue
		}
		bucket.Count += row.Count
		bucket.Amount = Money(bucket.Amount.Add(row.Amount))
	}
	sum.NetOpen = Money(sum.Receivables.Open.Amount.Sub(sum.Payables.Open.Amount))
	return sum, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, m Movement, reason string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "financial_movement",
		EntityID: strconv.FormatInt(m.ID, 10),
		Outcome:  shared.AuditApplied,
		Reason:   reason,
		Meta: map[string]any{
			"type":      string(m.Type),
			"source":    string(m.SourceType),
			"source_id": m.SourceID,
			"amount":    m.Amount.StringFixed(2),
			"status":    string(m.Status),
		},
	})
}

const maxNotesBytes = 255

// truncateNotes cuts s to at most limit bytes without splitting a rune.
func truncateNotes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
