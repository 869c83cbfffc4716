package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/shared"
)

// ApprovalModule names adjustment entries in the approvals log.
const ApprovalModule = "inventory.adjustment"

// maxCodeAttempts bounds RET-NNNN generation on collision.
const maxCodeAttempts = 5

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error)
	GetAdjustment(ctx context.Context, id int64) (Adjustment, error)
	ListAdjustments(ctx context.Context, status AdjustmentStatus) ([]Adjustment, error)
}

// ItemReader looks up inventory items outside a transaction.
type ItemReader interface {
	GetInventoryItem(ctx context.Context, id int64) (catalog.InventoryItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records and reads workflow transitions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Service coordinates inventory adjustments.
type Service struct {
	repo        RepositoryPort
	items       ItemReader
	audit       AuditPort
	approvals   ApprovalPort
	integration IntegrationHandler
	metrics     *observability.Metrics
	logger      *slog.Logger
	codeSuffix  func() int
}

// ServiceParams groups Service collaborators. Only Repo and Items are required.
type ServiceParams struct {
	Repo        RepositoryPort
	Items       ItemReader
	Audit       AuditPort
	Approvals   ApprovalPort
	Integration IntegrationHandler
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        p.Repo,
		items:       p.Items,
		audit:       p.Audit,
		approvals:   p.Approvals,
		integration: p.Integration,
		metrics:     p.Metrics,
		logger:      logger,
		codeSuffix:  func() int { return 1000 + rand.IntN(9000) },
	}
}

// CreateAdjustment records a pending adjustment against an existing item.
func (s *Service) CreateAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, error) {
	fields := shared.FieldErrors{}
	if input.InventoryItemID <= 0 {
		fields.Add("inventory_item", "is required")
	}
	if input.Quantity < 1 {
		fields.Add("quantity", "must be at least 1")
	}
	if !input.Type.Valid() {
		fields.Add("adjustment_type", "is invalid")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		fields.Add("reason", "is required")
	}
	if err := fields.Err(); err != nil {
		return Adjustment{}, err
	}
	if _, err := s.items.GetInventoryItem(ctx, input.InventoryItemID); err != nil {
		return Adjustment{}, err
	}

	adj := Adjustment{
		RefID:           uuid.New(),
		InventoryItemID: input.InventoryItemID,
		BatchNumber:     strings.TrimSpace(input.BatchNumber),
		Quantity:        input.Quantity,
		Type:            input.Type,
		Reason:          reason,
		Status:          StatusPending,
		CreatedBy:       input.ActorID,
	}
	var created Adjustment
	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		adj.Code = fmt.Sprintf("RET-%04d", s.codeSuffix())
		created, err = s.repo.InsertAdjustment(ctx, adj)
		if !errors.Is(err, ErrDuplicateAdjustmentCode) {
			break
		}
	}
	if err != nil {
		return Adjustment{}, err
	}

	s.recordApproval(ctx, created, shared.ApprovalSubmit, input.ActorID, reason)
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   shared.AuditCreate,
		Entity:   "inventory_adjustment",
		EntityID: created.Code,
		Message:  fmt.Sprintf("Created %s adjustment %s for %s", created.Type, created.Code, created.ItemName),
		Meta:     map[string]any{"inventory_item_id": created.InventoryItemID, "quantity": created.Quantity},
	})
	return created, nil
}

// GetAdjustment returns one adjustment.
func (s *Service) GetAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	return s.repo.GetAdjustment(ctx, id)
}

// AdjustmentHistory returns the approval trail of one adjustment, oldest first.
func (s *Service) AdjustmentHistory(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	adj, err := s.repo.GetAdjustment(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	logs, err := s.approvals.List(ctx, ApprovalModule, adj.RefID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	return logs, nil
}

// ListAdjustments lists adjustments, optionally filtered by status.
func (s *Service) ListAdjustments(ctx context.Context, status AdjustmentStatus) ([]Adjustment, error) {
	if status != "" && !status.Valid() {
		return nil, shared.FieldErrors{"status": "is invalid"}
	}
	return s.repo.ListAdjustments(ctx, status)
}

// ApproveAdjustment applies the adjustment's stock effect and marks it Approved.
// The item row is locked so approval and concurrent sales serialise.
func (s *Service) ApproveAdjustment(ctx context.Context, id int64, actor shared.Actor) (Decision, error) {
	return s.decide(ctx, id, actor, StatusApproved)
}

// RejectAdjustment closes a pending adjustment without touching stock.
func (s *Service) RejectAdjustment(ctx context.Context, id int64, actor shared.Actor) (Decision, error) {
	return s.decide(ctx, id, actor, StatusRejected)
}

// DisposeAdjustment marks a pending adjustment's goods as disposed without touching stock.
func (s *Service) DisposeAdjustment(ctx context.Context, id int64, actor shared.Actor) (Decision, error) {
	return s.decide(ctx, id, actor, StatusDisposed)
}

func (s *Service) decide(ctx context.Context, id int64, actor shared.Actor, target AdjustmentStatus) (Decision, error) {
	if actor.ID == 0 {
		return Decision{}, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	var decision Decision
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		adj, err := tx.GetAdjustmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if adj.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrAdjustmentFinal, adj.Code, adj.Status)
		}
		item, err := tx.GetItemForUpdate(ctx, adj.InventoryItemID)
		if err != nil {
			return err
		}
		decision.PreviousStock = item.CurrentStock
		decision.CurrentStock = item.CurrentStock
		if target == StatusApproved {
			next := adj.Type.Apply(item.CurrentStock, adj.Quantity)
			if next != item.CurrentStock {
				if err := tx.SetItemStock(ctx, item.ID, next); err != nil {
					return err
				}
			}
			decision.CurrentStock = next
		}
		updated, err := tx.UpdateAdjustmentStatus(ctx, adj.ID, target, actor.ID)
		if err != nil {
			return err
		}
		decision.Adjustment = updated
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	adj := decision.Adjustment
	s.metrics.ObserveAdjustment(string(adj.Status))
	action, verb := approvalActionFor(target)
	s.recordApproval(ctx, adj, action, actor.ID, adj.Reason)
	s.record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   verb,
		Entity:   "inventory_adjustment",
		EntityID: adj.Code,
		Message:  fmt.Sprintf("%s adjustment %s for %s", adj.Status, adj.Code, adj.ItemName),
		Meta: map[string]any{
			"inventory_item_id": adj.InventoryItemID,
			"quantity":          adj.Quantity,
			"previous_stock":    decision.PreviousStock,
			"current_stock":     decision.CurrentStock,
		},
	})
	if decision.CurrentStock != decision.PreviousStock {
		s.publish(ctx, StockChangedEvent{
			ItemID:       adj.InventoryItemID,
			Name:         adj.ItemName,
			Source:       SourceAdjustment,
			Reference:    adj.Code,
			CurrentStock: decision.CurrentStock,
		})
	}
	return decision, nil
}

func approvalActionFor(status AdjustmentStatus) (shared.ApprovalAction, string) {
	switch status {
	case StatusApproved:
		return shared.ApprovalApprove, shared.AuditApprove
	case StatusDisposed:
		return shared.ApprovalDispose, shared.AuditDispose
	default:
		return shared.ApprovalReject, shared.AuditReject
	}
}

func (s *Service) recordApproval(ctx context.Context, adj Adjustment, action shared.ApprovalAction, actorID int64, note string) {
	if s.approvals == nil || actorID == 0 {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: adj.RefID, ActorID: actorID, Action: action, Note: note})
	if err != nil {
		s.logger.Warn("approval record failed", slog.String("adjustment", adj.Code), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", log.Entity), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, evt StockChangedEvent) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleStockChanged(ctx, evt); err != nil {
		s.logger.Warn("stock event dispatch failed", slog.Int64("item_id", evt.ItemID), slog.Any("error", err))
	}
}
