package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zuohao/fund_dashboard/internal/domain"
	"github.com/zuohao/fund_dashboard/internal/usecase"
)

// MockHoldingRepo
type MockHoldingRepo struct {
	Holdings map[string]*domain.Holding
}

func holdingKey(userID int64, fundCode string) string {
	return fmt.Sprintf("%d:%s", userID, fundCode)
}

func NewMockHoldingRepo() *MockHoldingRepo {
	return &MockHoldingRepo{Holdings: make(map[string]*domain.Holding)}
}

func (m *MockHoldingRepo) GetHolding(ctx context.Context, userID int64, fundCode string) (*domain.Holding, error) {
	h, ok := m.Holdings[holdingKey(userID, fundCode)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *h
	return &copied, nil
}

func (m *MockHoldingRepo) ListHoldings(ctx context.Context, userID int64) ([]*domain.Holding, error) {
	var out []*domain.Holding
	for _, h := range m.Holdings {
		if h.UserID == userID {
			copied := *h
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockHoldingRepo) SaveHolding(ctx context.Context, h *domain.Holding) error {
	copied := *h
	copied.Shares = h.UnitsHeld * h.CostPerUnit
	m.Holdings[holdingKey(h.UserID, h.FundCode)] = &copied
	return nil
}

func (m *MockHoldingRepo) SetHolding(ctx context.Context, userID int64, fundCode string, unitsHeld, costPerUnit float64) error {
	if unitsHeld < 0 || costPerUnit < 0 {
		return domain.ErrInvalidArgument
	}
	h, ok := m.Holdings[holdingKey(userID, fundCode)]
	if !ok {
		return domain.ErrNotFound
	}
	h.UnitsHeld = unitsHeld
	h.CostPerUnit = costPerUnit
	h.Shares = unitsHeld * costPerUnit
	return nil
}

func (m *MockHoldingRepo) DeleteHolding(ctx context.Context, userID int64, fundCode string) error {
	key := holdingKey(userID, fundCode)
	if _, ok := m.Holdings[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.Holdings, key)
	return nil
}

// MockRecordRepo
type MockRecordRepo struct {
	Records   map[int64]*domain.PositionRecord
	NextID    int64
	AppendErr error
}

func NewMockRecordRepo() *MockRecordRepo {
	return &MockRecordRepo{Records: make(map[int64]*domain.PositionRecord), NextID: 1}
}

func (m *MockRecordRepo) AppendRecord(ctx context.Context, rec *domain.PositionRecord) (int64, error) {
	if m.AppendErr != nil {
		return 0, m.AppendErr
	}
	copied := *rec
	copied.ID = m.NextID
	m.NextID++
	m.Records[copied.ID] = &copied
	return copied.ID, nil
}

func (m *MockRecordRepo) ListRecords(ctx context.Context, userID int64) ([]*domain.PositionRecord, error) {
	var out []*domain.PositionRecord
	for _, r := range m.Records {
		if r.UserID == userID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MockRecordRepo) GetRecord(ctx context.Context, userID, recordID int64) (*domain.PositionRecord, error) {
	r, ok := m.Records[recordID]
	if !ok || r.UserID != userID {
		return nil, domain.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *MockRecordRepo) RemoveRecord(ctx context.Context, recordID int64) error {
	delete(m.Records, recordID)
	return nil
}

func newLedgerService(holdings *MockHoldingRepo, records *MockRecordRepo, now time.Time) *usecase.LedgerService {
	svc := usecase.NewLedgerService(holdings, records, zap.NewNop())
	svc.SetClock(func() time.Time { return now })
	return svc
}

func trackFund(repo *MockHoldingRepo, userID int64, fundCode string, units, cost float64) {
	repo.Holdings[holdingKey(userID, fundCode)] = &domain.Holding{
		UserID:      userID,
		FundCode:    fundCode,
		FundName:    "测试基金",
		UnitsHeld:   units,
		CostPerUnit: cost,
		Shares:      units * cost,
	}
}

func TestApplyOperation_RejectsNegativeValues(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	for _, req := range []usecase.ApplyOperationRequest{
		{UserID: 1, FundCode: "000001", Op: domain.OpAdd, UnitsHeld: -1, CostPerUnit: 1, Amount: 10, TradeDate: "2025-03-01"},
		{UserID: 1, FundCode: "000001", Op: domain.OpAdd, UnitsHeld: 1, CostPerUnit: -0.5, Amount: 10, TradeDate: "2025-03-01"},
	} {
		_, err := svc.ApplyOperation(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}

	// No mutation, no record.
	h, _ := holdings.GetHolding(context.Background(), 1, "000001")
	assert.Equal(t, 100.0, h.UnitsHeld)
	assert.Equal(t, 1.0, h.CostPerUnit)
	assert.Empty(t, records.Records)
}

func TestApplyOperation_RejectsUnknownOp(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	_, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: "transfer", UnitsHeld: 1, CostPerUnit: 1, Amount: 10, TradeDate: "2025-03-01",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestApplyOperation_UntrackedFund(t *testing.T) {
	svc := newLedgerService(NewMockHoldingRepo(), NewMockRecordRepo(), at(2025, 3, 1, 10, 0, 0))

	_, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "999999", Op: domain.OpAdd, UnitsHeld: 100, CostPerUnit: 1, Amount: 100, TradeDate: "2025-03-01",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyOperation_RecordsSnapshot(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	result, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 150, CostPerUnit: 1.2, Amount: 80, TradeDate: "2025-03-01", Period: "",
	})
	require.NoError(t, err)
	assert.Equal(t, 150.0, result.UnitsHeld)
	assert.Equal(t, 1.2, result.CostPerUnit)
	assert.InDelta(t, 180.0, result.PositionValue, 1e-9)

	require.Len(t, records.Records, 1)
	rec := records.Records[1]
	assert.Equal(t, 100.0, rec.PrevUnitsHeld)
	assert.Equal(t, 1.0, rec.PrevCostPerUnit)
	assert.Equal(t, 150.0, rec.NewUnitsHeld)
	assert.Equal(t, 1.2, rec.NewCostPerUnit)
	assert.Equal(t, "测试基金", rec.FundName)
}

func TestApplyOperation_AuditFailureIsNonFatal(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	records.AppendErr = errors.New("disk full")
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	result, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpReduce,
		UnitsHeld: 50, CostPerUnit: 1.0, Amount: 50, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.UnitsHeld)

	// The holding mutation is authoritative even though the log write failed.
	h, _ := holdings.GetHolding(context.Background(), 1, "000001")
	assert.Equal(t, 50.0, h.UnitsHeld)
	assert.Empty(t, records.Records)
}

func TestUndo_RestoresPreviousState(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	_, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 150, CostPerUnit: 1.2, Amount: 80, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)

	result, err := svc.Undo(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "已撤销并恢复持仓", result.Message)
	assert.Equal(t, 100.0, result.UnitsHeld)
	assert.Equal(t, 1.0, result.CostPerUnit)

	h, _ := holdings.GetHolding(context.Background(), 1, "000001")
	assert.Equal(t, 100.0, h.UnitsHeld)
	assert.Equal(t, 1.0, h.CostPerUnit)
	assert.Empty(t, records.Records)
}

func TestUndo_DeadlinePassed(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	_, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 150, CostPerUnit: 1.2, Amount: 80, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)

	// Next day, past the same-day 15:00 deadline.
	svc.SetClock(func() time.Time { return at(2025, 3, 2, 10, 0, 0) })
	_, err = svc.Undo(context.Background(), 1, 1)
	assert.ErrorIs(t, err, domain.ErrDeadlinePassed)

	// Record and holding untouched.
	assert.Len(t, records.Records, 1)
	h, _ := holdings.GetHolding(context.Background(), 1, "000001")
	assert.Equal(t, 150.0, h.UnitsHeld)
	assert.Equal(t, 1.2, h.CostPerUnit)
}

func TestUndo_ForeignOrMissingRecord(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	trackFund(holdings, 2, "000002", 30, 2.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	_, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 150, CostPerUnit: 1.2, Amount: 80, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)

	// Another user's record id.
	_, err = svc.Undo(context.Background(), 2, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nonexistent record id.
	_, err = svc.Undo(context.Background(), 1, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// No mutation anywhere.
	h1, _ := holdings.GetHolding(context.Background(), 1, "000001")
	assert.Equal(t, 150.0, h1.UnitsHeld)
	h2, _ := holdings.GetHolding(context.Background(), 2, "000002")
	assert.Equal(t, 30.0, h2.UnitsHeld)
	assert.Len(t, records.Records, 1)
}

func TestUndo_FundNoLongerTracked(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 100, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	_, err := svc.ApplyOperation(context.Background(), usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 150, CostPerUnit: 1.2, Amount: 80, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)

	require.NoError(t, holdings.DeleteHolding(context.Background(), 1, "000001"))

	_, err = svc.Undo(context.Background(), 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	// The record survives a failed restore.
	assert.Len(t, records.Records, 1)
}

func TestListRecords_OrderAndCanUndo(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 0, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))

	times := []time.Time{
		at(2025, 2, 27, 9, 0, 0),
		at(2025, 2, 28, 9, 0, 0),
		at(2025, 3, 1, 9, 0, 0),
	}
	for i, ts := range times {
		rec := &domain.PositionRecord{
			UserID: 1, FundCode: "000001", Op: domain.OpAdd, Amount: 10,
			TradeDate: ts.Format("2006-01-02"), CreatedAt: ts,
		}
		_, err := records.AppendRecord(context.Background(), rec)
		require.NoError(t, err, "record %d", i)
	}

	views, err := svc.ListRecords(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 3)

	// Newest first.
	assert.Equal(t, "2025-03-01", views[0].TradeDate)
	assert.Equal(t, "2025-02-28", views[1].TradeDate)
	assert.Equal(t, "2025-02-27", views[2].TradeDate)

	// Only the same-day record is still inside its 15:00 window at 10:00.
	assert.True(t, views[0].CanUndo)
	assert.False(t, views[1].CanUndo)
	assert.False(t, views[2].CanUndo)
}

// Full scenario: track, two adds, undo the second, fail undoing the first
// past its deadline.
func TestLedger_EndToEnd(t *testing.T) {
	holdings := NewMockHoldingRepo()
	records := NewMockRecordRepo()
	trackFund(holdings, 1, "000001", 0, 1.0)
	svc := newLedgerService(holdings, records, at(2025, 3, 1, 10, 0, 0))
	ctx := context.Background()

	_, err := svc.ApplyOperation(ctx, usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 100, CostPerUnit: 1.0, Amount: 100, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)

	_, err = svc.ApplyOperation(ctx, usecase.ApplyOperationRequest{
		UserID: 1, FundCode: "000001", Op: domain.OpAdd,
		UnitsHeld: 150, CostPerUnit: 1.2, Amount: 80, TradeDate: "2025-03-01",
	})
	require.NoError(t, err)

	second := records.Records[2]
	assert.Equal(t, 100.0, second.PrevUnitsHeld)
	assert.Equal(t, 1.0, second.PrevCostPerUnit)

	result, err := svc.Undo(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.UnitsHeld)

	h, _ := holdings.GetHolding(ctx, 1, "000001")
	assert.Equal(t, 100.0, h.UnitsHeld)
	assert.Equal(t, 1.0, h.CostPerUnit)
	require.Len(t, records.Records, 1)

	// Next morning the first record's 15:00 deadline has passed.
	svc.SetClock(func() time.Time { return at(2025, 3, 2, 10, 0, 0) })
	_, err = svc.Undo(ctx, 1, 1)
	assert.ErrorIs(t, err, domain.ErrDeadlinePassed)

	h, _ = holdings.GetHolding(ctx, 1, "000001")
	assert.Equal(t, 100.0, h.UnitsHeld)
	assert.Equal(t, 1.0, h.CostPerUnit)
}
