package domain

import "time"

// Holding represents one user's current stake in a single fund.
// UnitsHeld and CostPerUnit are the source of truth; Shares is the
// denormalized display value (units * cost) kept alongside for the dashboard.
type Holding struct {
	UserID      int64
	FundCode    string
	FundName    string
	UnitsHeld   float64
	CostPerUnit float64
	Shares      float64
	CreatedAt   time.Time
}

// PositionValue returns the current position value in currency terms.
func (h *Holding) PositionValue() float64 {
	return h.UnitsHeld * h.CostPerUnit
}
