package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/zuohao/fund_dashboard/internal/domain"
)

const undoCutoffHour = 15

const tradeDateLayout = "2006-01-02"

const undoDeadlineMessage = "已过撤销截止时间（当日15:00前操作须在当日15:00前撤销，当日15:00后操作须在次日15:00前撤销），无法撤销"

// CheckUndoDeadline decides whether a position record may still be undone at
// the given moment. Operations placed before the 15:00 cutoff on the trade
// date must be undone before that day's 15:00; operations tagged "after15"
// get until 15:00 the next day. A record with a blank trade date (legacy
// data) is always undoable; an unparseable one can never be undone.
//
// Pure function of (trade_date, period, now), no side effects.
func CheckUndoDeadline(rec *domain.PositionRecord, now time.Time) (bool, error) {
	tradeDate := strings.TrimSpace(rec.TradeDate)
	if tradeDate == "" {
		return true, nil
	}

	day, err := time.ParseInLocation(tradeDateLayout, tradeDate, now.Location())
	if err != nil {
		return false, fmt.Errorf("%w: 记录日期格式错误", domain.ErrInvalidArgument)
	}

	if strings.ToLower(strings.TrimSpace(rec.Period)) == domain.PeriodAfterCutoff {
		day = day.AddDate(0, 0, 1)
	}
	deadline := time.Date(day.Year(), day.Month(), day.Day(), undoCutoffHour, 0, 0, 0, now.Location())

	if !now.Before(deadline) {
		return false, fmt.Errorf("%w: %s", domain.ErrDeadlinePassed, undoDeadlineMessage)
	}
	return true, nil
}
