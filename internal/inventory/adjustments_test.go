package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/shared"
)

var approver = shared.Actor{ID: 1, Role: shared.RoleAdmin}

type fixture struct {
	store       *memoryStore
	svc         *Service
	audit       *recordingAudit
	approvals   *recordingApprovals
	integration *recordingIntegration
}

func newFixture() fixture {
	store := newMemoryStore()
	f := fixture{store: store, audit: &recordingAudit{}, approvals: &recordingApprovals{}, integration: &recordingIntegration{}}
	f.svc = NewService(ServiceParams{
		Repo:        store,
		Items:       store,
		Audit:       f.audit,
		Approvals:   f.approvals,
		Integration: f.integration,
	})
	return f
}

func (f fixture) create(t *testing.T, itemID int64, typ AdjustmentType, qty int) Adjustment {
	t.Helper()
	adj, err := f.svc.CreateAdjustment(context.Background(), AdjustmentInput{
		InventoryItemID: itemID,
		Quantity:        qty,
		Type:            typ,
		Reason:          "counted at shelf",
		ActorID:         5,
	})
	require.NoError(t, err)
	return adj
}

func TestCustomerReturnApprovalRestocksOnce(t *testing.T) {
	f := newFixture()
	item := f.store.addItem("Amoxicillin 500mg", catalog.DepartmentPharmacy, 20)
	adj := f.create(t, item.ID, AdjustmentCustomerReturn, 5)
	require.Equal(t, StatusPending, adj.Status)
	require.Regexp(t, `^RET-\d{4}$`, adj.Code)
	require.NotEqual(t, uuid.Nil, adj.RefID)

	decision, err := f.svc.ApproveAdjustment(context.Background(), adj.ID, approver)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decision.Adjustment.Status)
	require.Equal(t, approver.ID, decision.Adjustment.ApprovedBy)
	require.Equal(t, 20, decision.PreviousStock)
	require.Equal(t, 25, decision.CurrentStock)
	require.Equal(t, 25, f.store.stock(item.ID))

	_, err = f.svc.ApproveAdjustment(context.Background(), adj.ID, approver)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 25, f.store.stock(item.ID))

	require.Len(t, f.integration.events, 1)
	require.Equal(t, SourceAdjustment, f.integration.events[0].Source)

	actions := []shared.ApprovalAction{}
	for _, l := range f.approvals.logs {
		require.Equal(t, ApprovalModule, l.Module)
		require.Equal(t, adj.RefID, l.RefID)
		actions = append(actions, l.Action)
	}
	require.Equal(t, []shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalApprove}, actions)

	history, err := f.svc.AdjustmentHistory(context.Background(), adj.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
}

func TestAdjustmentHistoryUnknownAdjustment(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AdjustmentHistory(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReductionsFloorAtZero(t *testing.T) {
	cases := []struct {
		typ  AdjustmentType
		qty  int
		want int
	}{
		{AdjustmentDamaged, 3, 5},
		{AdjustmentExpired, 8, 0},
		{AdjustmentLoss, 50, 0},
		{AdjustmentError, 4, 8},
		{AdjustmentGeneral, 4, 8},
		{AdjustmentCustomerReturn, 2, 10},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			f := newFixture()
			item := f.store.addItem("Syringe 5ml", catalog.DepartmentPharmacy, 8)
			adj := f.create(t, item.ID, tc.typ, tc.qty)
			decision, err := f.svc.ApproveAdjustment(context.Background(), adj.ID, approver)
			require.NoError(t, err)
			require.Equal(t, tc.want, decision.CurrentStock)
			require.Equal(t, tc.want, f.store.stock(item.ID))
		})
	}
}

func TestRejectAndDisposeLeaveStockAndAreTerminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.store.addItem("Gauze roll", catalog.DepartmentPharmacy, 12)

	rejected := f.create(t, item.ID, AdjustmentDamaged, 4)
	decision, err := f.svc.RejectAdjustment(ctx, rejected.ID, approver)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, decision.Adjustment.Status)
	require.Equal(t, 12, f.store.stock(item.ID))

	disposed := f.create(t, item.ID, AdjustmentExpired, 4)
	decision, err = f.svc.DisposeAdjustment(ctx, disposed.ID, approver)
	require.NoError(t, err)
	require.Equal(t, StatusDisposed, decision.Adjustment.Status)
	require.Equal(t, 12, f.store.stock(item.ID))

	for _, id := range []int64{rejected.ID, disposed.ID} {
		_, err = f.svc.ApproveAdjustment(ctx, id, approver)
		require.ErrorIs(t, err, shared.ErrConflict)
		_, err = f.svc.RejectAdjustment(ctx, id, approver)
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	require.Empty(t, f.integration.events)

	pending, err := f.svc.ListAdjustments(ctx, StatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)
	all, err := f.svc.ListAdjustments(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCreateAdjustmentValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateAdjustment(ctx, AdjustmentInput{InventoryItemID: 1, Quantity: 0, Type: "Stolen"})
	var fields shared.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "quantity")
	require.Contains(t, fields, "adjustment_type")
	require.Contains(t, fields, "reason")

	_, err = f.svc.CreateAdjustment(ctx, AdjustmentInput{InventoryItemID: 42, Quantity: 1, Type: AdjustmentLoss, Reason: "missing"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.ApproveAdjustment(ctx, 404, approver)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustmentCodeRetriesOnCollision(t *testing.T) {
	f := newFixture()
	item := f.store.addItem("Cotton wool", catalog.DepartmentPharmacy, 30)
	suffixes := []int{1234, 1234, 5678}
	f.svc.codeSuffix = func() int {
		next := suffixes[0]
		suffixes = suffixes[1:]
		return next
	}

	first := f.create(t, item.ID, AdjustmentLoss, 1)
	second := f.create(t, item.ID, AdjustmentLoss, 1)
	require.Equal(t, "RET-1234", first.Code)
	require.Equal(t, "RET-5678", second.Code)
}

func TestApprovalRollsBackOnStockWriteFailure(t *testing.T) {
	f := newFixture()
	item := f.store.addItem("Bandage", catalog.DepartmentPharmacy, 10)
	adj := f.create(t, item.ID, AdjustmentDamaged, 2)
	f.store.failSetFor = item.ID

	_, err := f.svc.ApproveAdjustment(context.Background(), adj.ID, approver)
	require.Error(t, err)

	got, err := f.svc.GetAdjustment(context.Background(), adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, 10, f.store.stock(item.ID))
}
