package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zuohao/fund_dashboard/internal/domain"
)

// FundService manages the user's tracked-fund list. Tracking a fund creates
// its holding row with a zero position; untracking deletes the row. Position
// records of an untracked fund are kept, so a later undo fails cleanly.
type FundService struct {
	holdings domain.HoldingRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewFundService(holdings domain.HoldingRepository, logger *zap.Logger) *FundService {
	return &FundService{
		holdings: holdings,
		logger:   logger,
		now:      time.Now,
	}
}

// TrackFund adds a fund to the user's list with an empty position
// (units_held=0, cost_per_unit=1). Re-tracking an existing fund resets it.
func (s *FundService) TrackFund(ctx context.Context, userID int64, fundCode, fundName string) error {
	fundCode = strings.TrimSpace(fundCode)
	if fundCode == "" {
		return fmt.Errorf("%w: 请提供基金代码", domain.ErrInvalidArgument)
	}
	h := &domain.Holding{
		UserID:      userID,
		FundCode:    fundCode,
		FundName:    strings.TrimSpace(fundName),
		UnitsHeld:   0,
		CostPerUnit: 1,
		CreatedAt:   s.now(),
	}
	if err := s.holdings.SaveHolding(ctx, h); err != nil {
		return err
	}
	s.logger.Debug("Tracked fund",
		zap.Int64("user_id", userID),
		zap.String("fund_code", fundCode))
	return nil
}

// UntrackFund removes a fund from the user's list.
func (s *FundService) UntrackFund(ctx context.Context, userID int64, fundCode string) error {
	err := s.holdings.DeleteHolding(ctx, userID, fundCode)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: 基金不存在", domain.ErrNotFound)
	}
	return err
}

// ListFunds returns all holdings tracked by the user.
func (s *FundService) ListFunds(ctx context.Context, userID int64) ([]*domain.Holding, error) {
	return s.holdings.ListHoldings(ctx, userID)
}
