package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecalcMode selects whether COST_BASIS_RESET rows seed the replay.
type RecalcMode string

const (
	// RecalcPure ignores reset rows; everything is derived from full history.
	RecalcPure RecalcMode = "PURE"
	// RecalcHonorResets applies reset rows at their point in the sequence.
	RecalcHonorResets RecalcMode = "HONOR_RESETS"
)

// Holding is a presentable position produced by a recalculation.
type Holding struct {
	AssetID        int64               `json:"asset_id"`
	Symbol         string              `json:"symbol"`
	AccountID      int64               `json:"account_id"`
	Quantity       decimal.Decimal     `json:"quantity"`
	CostBasis      decimal.NullDecimal `json:"cost_basis"`   // null when unavailable
	AverageCost    decimal.NullDecimal `json:"average_cost"` // null when unavailable
	CostBasisKnown bool                `json:"cost_basis_known"`
}

// RecalcResult is the outcome of a cost-basis recalculation run.
type RecalcResult struct {
	RunID            string                `json:"run_id"`
	Mode             RecalcMode            `json:"mode"`
	AsOf             time.Time             `json:"as_of"`
	TransactionCount int                   `json:"transaction_count"`
	Holdings         []Holding             `json:"holdings"`
	Diagnostics      []TransferDiagnostic  `json:"diagnostics"`
	IssueCounts      map[TransferIssue]int `json:"issue_counts"`
	SnapshotsWritten int                   `json:"snapshots_written"`
	Duration         time.Duration         `json:"duration"`
}
