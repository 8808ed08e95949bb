package domain

import "time"

type Op string

const (
	OpAdd    Op = "add"
	OpReduce Op = "reduce"
)

// PeriodAfterCutoff tags an operation placed after the 15:00 cutoff on its
// trade date. Any other period value (including empty) means before/at cutoff.
const PeriodAfterCutoff = "after15"

// PositionRecord is one append-only audit entry for an add/reduce operation,
// capturing the holding snapshot before and after. Immutable once created;
// removed only as part of a successful undo.
type PositionRecord struct {
	ID              int64
	UserID          int64
	FundCode        string
	FundName        string
	Op              Op
	Amount          float64
	TradeDate       string // YYYY-MM-DD, the date the external trade was placed
	Period          string
	PrevUnitsHeld   float64
	PrevCostPerUnit float64
	NewUnitsHeld    float64
	NewCostPerUnit  float64
	CreatedAt       time.Time
}
