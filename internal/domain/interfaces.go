package domain

import "context"

// HoldingRepository defines storage operations for per-(user, fund) holdings.
type HoldingRepository interface {
	GetHolding(ctx context.Context, userID int64, fundCode string) (*Holding, error)
	ListHoldings(ctx context.Context, userID int64) ([]*Holding, error)
	SaveHolding(ctx context.Context, h *Holding) error
	// SetHolding is the sole mutation primitive for an existing position; it
	// rejects negative inputs and returns ErrNotFound when no row matches.
	SetHolding(ctx context.Context, userID int64, fundCode string, unitsHeld, costPerUnit float64) error
	DeleteHolding(ctx context.Context, userID int64, fundCode string) error
}

// RecordRepository defines storage operations for the position record log.
type RecordRepository interface {
	AppendRecord(ctx context.Context, rec *PositionRecord) (int64, error)
	ListRecords(ctx context.Context, userID int64) ([]*PositionRecord, error)
	GetRecord(ctx context.Context, userID, recordID int64) (*PositionRecord, error)
	RemoveRecord(ctx context.Context, recordID int64) error
}
