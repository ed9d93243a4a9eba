package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bobmcallan/tally/internal/models"
)

// ErrInvalidMode is returned for a recalculation mode the engine does not know.
var ErrInvalidMode = errors.New("invalid recalculation mode")

// ValidMode reports whether m is a supported recalculation mode.
func ValidMode(m models.RecalcMode) bool {
	return m == models.RecalcPure || m == models.RecalcHonorResets
}

// Engine replays transaction histories under a fixed tolerance policy.
// It is safe for concurrent use; each Run owns its own state.
type Engine struct {
	opts Options
}

// NewEngine creates an engine with the given options.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the engine's tolerance policy.
func (e *Engine) Options() Options {
	return e.opts
}

// Result holds the outcome of one replay.
type Result struct {
	Positions   map[models.PositionKey]*models.Position
	Diagnostics []models.TransferDiagnostic
	Processed   int
}

// Sorted returns positions ordered by asset then account.
func (r *Result) Sorted() []*models.Position {
	return sortPositions(r.Positions)
}

// Position looks up a single position.
func (r *Result) Position(assetID, accountID int64) (*models.Position, bool) {
	p, ok := r.Positions[models.PositionKey{AssetID: assetID, AccountID: accountID}]
	return p, ok
}

type run struct {
	opts        Options
	book        *Book
	groups      map[models.TransferKey]*transferGroup
	diagnostics *Collector
}

// Run replays txs in (DateTime, ID) order and returns the resulting positions.
// The input slice is not modified. In PURE mode COST_BASIS_RESET rows are
// ignored entirely; in HONOR_RESETS mode they seed cost basis where they occur.
func (e *Engine) Run(txs []models.LedgerTransaction, mode models.RecalcMode) (*Result, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	sorted := make([]*models.LedgerTransaction, 0, len(txs))
	for i := range txs {
		if mode == models.RecalcPure && txs[i].TxType == models.TxCostBasisReset {
			continue
		}
		tx := txs[i]
		sorted = append(sorted, &tx)
	}
	sortForReplay(sorted)

	r := &run{
		opts:        e.opts,
		book:        NewBook(),
		groups:      indexTransfers(sorted),
		diagnostics: NewCollector(),
	}
	for _, tx := range sorted {
		if tx.TxType == models.TxTransfer {
			r.handleTransfer(tx)
			continue
		}
		r.applyIndependent(tx)
	}

	return &Result{
		Positions:   r.book.Positions(),
		Diagnostics: r.diagnostics.Diagnostics(),
		Processed:   len(sorted),
	}, nil
}

// Replay runs txs through an engine with default options.
func Replay(txs []models.LedgerTransaction, mode models.RecalcMode) (*Result, error) {
	return NewEngine(DefaultOptions()).Run(txs, mode)
}

// sortForReplay orders by time then id. Remaining ties fall back to stable
// row content so duplicated ids still replay identically for any input order.
func sortForReplay(txs []*models.LedgerTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.DateTime.Equal(b.DateTime) {
			return a.DateTime.Before(b.DateTime)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.TxType != b.TxType {
			return a.TxType < b.TxType
		}
		if c := a.Quantity.Decimal.Cmp(b.Quantity.Decimal); c != 0 {
			return c < 0
		}
		return a.ExternalReference < b.ExternalReference
	})
}
