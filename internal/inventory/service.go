package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
}

// Service coordinates stock movements.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Product returns the current product row.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// Movements lists stock movements.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// PostForSource records the movement caused by a business document exactly once.
// Replays of an already stored key leave stock untouched and report Applied=false.
func (s *Service) PostForSource(ctx context.Context, input MovementInput) (PostResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return PostResult{}, fmt.Errorf("inventory: movement: %w", err)
	}
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = post(ctx, tx, input)
		return err
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// PostManual records an operator-entered movement and audits it in the same transaction.
func (s *Service) PostManual(ctx context.Context, actorID int64, input ManualInput) (PostResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return PostResult{}, fmt.Errorf("inventory: manual movement: %w", err)
	}
	ref := input.RequestID
	if ref == "" {
		ref = uuid.NewString()
	}
	movement := MovementInput{
		ProductID:  input.ProductID,
		Type:       input.Type,
		Qty:        input.Qty,
		SourceType: SourceManual,
		SourceID:   actorID,
		Event:      "MANUAL",
		LineRef:    ref,
		Note:       input.Note,
		ActorID:    actorID,
	}
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = post(ctx, tx, movement)
		if err != nil || !result.Applied || s.audit == nil {
			return err
		}
		return s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "STOCK_MANUAL",
			Entity:   "product",
			EntityID: strconv.FormatInt(input.ProductID, 10),
			Outcome:  shared.AuditApplied,
			Meta: map[string]any{
				"movement_id": result.Movement.ID,
				"type":        string(input.Type),
				"qty":         input.Qty,
				"stock":       result.Stock,
			},
		})
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// Reconcile recomputes every product's stock from its movements. Drifting rows are
// rewritten when fix is set; products whose movements sum below zero are reported only.
func (s *Service) Reconcile(ctx context.Context, fix bool) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report = ReconcileReport{}
		products, err := tx.LockProducts(ctx)
		if err != nil {
			return err
		}
		totals, err := tx.MovementTotals(ctx)
		if err != nil {
			return err
		}
		for _, product := range products {
			report.Checked++
			computed := totals[product.ID]
			if computed == product.Stock {
				continue
			}
			report.Drifts = append(report.Drifts, Drift{ProductID: product.ID, Recorded: product.Stock, Computed: computed})
			if !fix {
				continue
			}
			if computed < 0 {
				s.logger.Warn("stock rebuild skipped",
					slog.Int64("product_id", product.ID),
					slog.Any("error", ErrNegativeRebuild))
				continue
			}
			if err := tx.SetStock(ctx, product.ID, computed); err != nil {
				return err
			}
			report.Fixed++
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	if len(report.Drifts) > 0 {
		s.logger.Warn("stock drift detected",
			slog.Int("checked", report.Checked),
			slog.Int("drifts", len(report.Drifts)),
			slog.Int("fixed", report.Fixed))
	}
	return report, nil
}

func post(ctx context.Context, tx TxRepository, input MovementInput) (PostResult, error) {
	product, err := tx.LockProduct(ctx, input.ProductID)
	if err != nil {
		return PostResult{}, err
	}
	movement, inserted, err := tx.InsertMovement(ctx, StockMovement{
		ProductID:      input.ProductID,
		Type:           input.Type,
		Qty:            input.Qty,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		Event:          input.Event,
		LineRef:        input.LineRef,
		IdempotencyKey: input.Key(),
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	})
	if err != nil {
		return PostResult{}, err
	}
	if !inserted {
		return PostResult{Movement: movement, Applied: false, Stock: product.Stock}, nil
	}
	if !product.Active {
		return PostResult{}, fmt.Errorf("%w: %d", ErrInactiveProduct, product.ID)
	}
	stock := product.Stock + movement.Delta()
	if stock < 0 {
		return PostResult{}, fmt.Errorf("%w: product %d has %d, requested %d", ErrInsufficientStock, product.ID, product.Stock, movement.Qty)
	}
	if err := tx.SetStock(ctx, product.ID, stock); err != nil {
		return PostResult{}, err
	}
	return PostResult{Movement: movement, Applied: true, Stock: stock}, nil
}

