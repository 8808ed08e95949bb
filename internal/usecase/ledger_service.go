package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zuohao/fund_dashboard/internal/domain"
)

// ApplyOperationRequest carries one add/reduce operation. UnitsHeld and
// CostPerUnit are the target values already computed by the caller; the
// ledger does not derive them from Amount.
type ApplyOperationRequest struct {
	UserID      int64
	FundCode    string
	FundName    string
	Op          domain.Op
	UnitsHeld   float64
	CostPerUnit float64
	Amount      float64
	TradeDate   string
	Period      string
}

type ApplyOperationResult struct {
	UnitsHeld     float64
	CostPerUnit   float64
	PositionValue float64
}

// RecordView is a PositionRecord with CanUndo recomputed against the current
// clock on every read; it is never stored.
type RecordView struct {
	domain.PositionRecord
	CanUndo bool
}

// LedgerService orchestrates holding mutations, the position record log and
// the undo deadline policy.
type LedgerService struct {
	holdings domain.HoldingRepository
	records  domain.RecordRepository
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // (user_id, fund_code) -> lock
}

func NewLedgerService(holdings domain.HoldingRepository, records domain.RecordRepository, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		holdings: holdings,
		records:  records,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the wall clock, for tests.
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// positionLock serializes read-modify-write cycles per (user, fund).
// sqlite gives us no per-row locking through database/sql, so two concurrent
// applies for the same position would otherwise race last-write-wins.
func (s *LedgerService) positionLock(userID int64, fundCode string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, fundCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// ApplyOperation sets the position to the requested values and appends a
// record with the before/after snapshot. The holding mutation is
// authoritative: a failed record append is logged and swallowed, the
// operation still succeeds.
func (s *LedgerService) ApplyOperation(ctx context.Context, req ApplyOperationRequest) (*ApplyOperationResult, error) {
	if req.UnitsHeld < 0 || req.CostPerUnit < 0 {
		return nil, fmt.Errorf("%w: 持有份额与持仓成本不能为负数", domain.ErrInvalidArgument)
	}
	if req.Op != domain.OpAdd && req.Op != domain.OpReduce {
		return nil, fmt.Errorf("%w: 操作类型无效", domain.ErrInvalidArgument)
	}

	lock := s.positionLock(req.UserID, req.FundCode)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.holdings.GetHolding(ctx, req.UserID, req.FundCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: 更新失败，基金不存在", domain.ErrNotFound)
		}
		return nil, err
	}

	if err := s.holdings.SetHolding(ctx, req.UserID, req.FundCode, req.UnitsHeld, req.CostPerUnit); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: 更新失败，基金不存在", domain.ErrNotFound)
		}
		return nil, err
	}

	fundName := prev.FundName
	if fundName == "" {
		fundName = req.FundName
	}
	rec := &domain.PositionRecord{
		UserID:          req.UserID,
		FundCode:        req.FundCode,
		FundName:        fundName,
		Op:              req.Op,
		Amount:          req.Amount,
		TradeDate:       req.TradeDate,
		Period:          req.Period,
		PrevUnitsHeld:   prev.UnitsHeld,
		PrevCostPerUnit: prev.CostPerUnit,
		NewUnitsHeld:    req.UnitsHeld,
		NewCostPerUnit:  req.CostPerUnit,
		CreatedAt:       s.now(),
	}
	if _, err := s.records.AppendRecord(ctx, rec); err != nil {
		// Best-effort audit trail: the holding is already updated and that is
		// what the user observes. Do not roll back.
		s.logger.Warn("Failed to append position record",
			zap.Int64("user_id", req.UserID),
			zap.String("fund_code", req.FundCode),
			zap.Error(err))
	}

	return &ApplyOperationResult{
		UnitsHeld:     req.UnitsHeld,
		CostPerUnit:   req.CostPerUnit,
		PositionValue: req.UnitsHeld * req.CostPerUnit,
	}, nil
}

// ListRecords returns the user's position records, newest first, each with a
// freshly evaluated CanUndo flag.
func (s *LedgerService) ListRecords(ctx context.Context, userID int64) ([]*RecordView, error) {
	recs, err := s.records.ListRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]*RecordView, 0, len(recs))
	for _, r := range recs {
		canUndo, _ := CheckUndoDeadline(r, now)
		views = append(views, &RecordView{PositionRecord: *r, CanUndo: canUndo})
	}
	return views, nil
}

// UndoResult reports a successful reversal with the restored position.
type UndoResult struct {
	Message     string
	FundCode    string
	UnitsHeld   float64
	CostPerUnit float64
}

// Undo reverses one recorded operation: the holding is restored to the
// record's prev snapshot and the record itself is deleted. Refused once the
// reversal window has closed.
func (s *LedgerService) Undo(ctx context.Context, userID, recordID int64) (*UndoResult, error) {
	rec, err := s.records.GetRecord(ctx, userID, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: 记录不存在或无权操作", domain.ErrNotFound)
		}
		return nil, err
	}

	if _, err := CheckUndoDeadline(rec, s.now()); err != nil {
		return nil, err
	}

	lock := s.positionLock(userID, rec.FundCode)
	lock.Lock()
	defer lock.Unlock()

	if err := s.holdings.SetHolding(ctx, userID, rec.FundCode, rec.PrevUnitsHeld, rec.PrevCostPerUnit); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: 基金不存在，无法恢复", domain.ErrNotFound)
		}
		return nil, err
	}
	if err := s.records.RemoveRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return &UndoResult{
		Message:     "已撤销并恢复持仓",
		FundCode:    rec.FundCode,
		UnitsHeld:   rec.PrevUnitsHeld,
		CostPerUnit: rec.PrevCostPerUnit,
	}, nil
}
