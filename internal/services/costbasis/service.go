// Package costbasis recalculates positions and cost basis from the ledger and
// persists reset snapshots for later runs.
package costbasis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/ledger"
	"github.com/bobmcallan/tally/internal/models"
)

// Compile-time interface check
var _ interfaces.CostBasisService = (*Service)(nil)

// Service implements CostBasisService
type Service struct {
	storage         interfaces.StorageManager
	engine          *ledger.Engine
	defaultMode     models.RecalcMode
	snapshotEpsilon decimal.Decimal
	logger          *common.Logger
	now             func() time.Time

	// mu keeps at most one recalculation in flight so reset snapshots are
	// never written from interleaved runs.
	mu sync.Mutex
}

// NewService creates a new cost-basis service
func NewService(storage interfaces.StorageManager, cfg common.LedgerConfig, logger *common.Logger) *Service {
	mode := models.RecalcMode(strings.ToUpper(cfg.DefaultMode))
	if !ledger.ValidMode(mode) {
		mode = models.RecalcHonorResets
	}
	eps := decimal.New(1, -12)
	if cfg.SnapshotEpsilon > 0 {
		eps = decimal.NewFromFloat(cfg.SnapshotEpsilon)
	}
	return &Service{
		storage:         storage,
		engine:          ledger.NewEngine(ledger.NewOptions(cfg)),
		defaultMode:     mode,
		snapshotEpsilon: eps,
		logger:          logger,
		now:             time.Now,
	}
}

// Recalculate replays the ledger up to opts.AsOf.
func (s *Service) Recalculate(ctx context.Context, opts interfaces.RecalcOptions) (*models.RecalcResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = start
	}
	asOf = asOf.UTC()
	mode := opts.Mode
	if mode == "" {
		mode = s.defaultMode
	}
	if !ledger.ValidMode(mode) {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidMode, mode)
	}

	txs, err := s.storage.TransactionStore().List(ctx, models.TransactionFilter{AsOf: asOf})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	res, err := s.engine.Run(txs, mode)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	for _, d := range res.Diagnostics {
		s.logger.Warn().
			Str("run_id", runID).
			Str("issue", string(d.Issue)).
			Str("key", d.Key).
			Int64("asset_id", d.AssetID).
			Interface("leg_ids", d.LegIDs).
			Msg("Transfer needs review")
	}

	result := &models.RecalcResult{
		RunID:            runID,
		Mode:             mode,
		AsOf:             asOf,
		TransactionCount: res.Processed,
		Holdings:         buildHoldings(res, symbolIndex(txs)),
		Diagnostics:      res.Diagnostics,
		IssueCounts:      ledger.CountByIssue(res.Diagnostics),
	}

	if opts.WriteSnapshots {
		n, err := s.writeSnapshots(ctx, runID, asOf, res)
		if err != nil {
			return nil, err
		}
		result.SnapshotsWritten = n
	}

	result.Duration = s.now().Sub(start)
	s.logger.Info().
		Str("run_id", runID).
		Str("mode", string(mode)).
		Time("as_of", asOf).
		Int("transactions", result.TransactionCount).
		Int("positions", len(result.Holdings)).
		Int("diagnostics", len(result.Diagnostics)).
		Int("unmatched", result.IssueCounts[models.IssueUnmatched]).
		Int("ambiguous", result.IssueCounts[models.IssueAmbiguous]).
		Int("invalid_legs", result.IssueCounts[models.IssueInvalidLegs]).
		Int("fee_mismatch", result.IssueCounts[models.IssueFeeMismatch]).
		Int("snapshots", result.SnapshotsWritten).
		Dur("duration", result.Duration).
		Msg("Cost basis recalculated")

	return result, nil
}

// Holdings returns holdings as of asOf without writing anything.
func (s *Service) Holdings(ctx context.Context, asOf time.Time) ([]models.Holding, error) {
	res, err := s.Recalculate(ctx, interfaces.RecalcOptions{AsOf: asOf, Mode: models.RecalcHonorResets})
	if err != nil {
		return nil, err
	}
	return res.Holdings, nil
}

// writeSnapshots replaces reset rows from asOf onward with one row per known,
// non-negligible position.
func (s *Service) writeSnapshots(ctx context.Context, runID string, asOf time.Time, res *ledger.Result) (int, error) {
	store := s.storage.TransactionStore()

	removed, err := store.DeleteResetsFrom(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to clear previous snapshots: %w", err)
	}

	written := 0
	for _, p := range res.Sorted() {
		if !p.CostBasisKnown || p.Quantity.Abs().LessThanOrEqual(s.snapshotEpsilon) {
			continue
		}
		row := &models.LedgerTransaction{
			DateTime:          asOf,
			AccountID:         p.AccountID,
			AssetID:           p.AssetID,
			Quantity:          decimal.NewNullDecimal(decimal.Zero),
			TotalValueInBase:  decimal.NewNullDecimal(p.CostBasis),
			TxType:            models.TxCostBasisReset,
			ExternalReference: models.ResetReferencePrefix + runID,
			Source:            models.SourceRecalc,
			Notes:             "snapshot quantity " + p.Quantity.String(),
		}
		if err := store.Insert(ctx, row); err != nil {
			return written, fmt.Errorf("failed to write snapshot for %s: %w", p.Key(), err)
		}
		written++
	}

	s.logger.Debug().Str("run_id", runID).Int("removed", removed).Int("written", written).Msg("Reset snapshots written")
	return written, nil
}

func symbolIndex(txs []models.LedgerTransaction) map[int64]string {
	out := make(map[int64]string)
	for i := range txs {
		if txs[i].Asset.Symbol != "" {
			out[txs[i].AssetID] = txs[i].Asset.Symbol
		}
	}
	return out
}

func buildHoldings(res *ledger.Result, symbols map[int64]string) []models.Holding {
	positions := res.Sorted()
	holdings := make([]models.Holding, 0, len(positions))
	for _, p := range positions {
		h := models.Holding{
			AssetID:        p.AssetID,
			Symbol:         symbols[p.AssetID],
			AccountID:      p.AccountID,
			Quantity:       p.Quantity,
			CostBasisKnown: p.CostBasisKnown,
			AverageCost:    p.AverageCost(),
		}
		if p.CostBasisKnown {
			h.CostBasis = decimal.NewNullDecimal(p.CostBasis)
		}
		holdings = append(holdings, h)
	}
	return holdings
}

// MatchTransfers force-pairs two TRANSFER legs by giving both a shared MATCH: reference.
func (s *Service) MatchTransfers(ctx context.Context, legA, legB int64) (string, error) {
	if legA == legB {
		return "", fmt.Errorf("cannot match a transfer leg with itself")
	}
	store := s.storage.TransactionStore()

	a, err := store.Get(ctx, legA)
	if err != nil {
		return "", err
	}
	b, err := store.Get(ctx, legB)
	if err != nil {
		return "", err
	}
	if a.TxType != models.TxTransfer || b.TxType != models.TxTransfer {
		return "", fmt.Errorf("both legs must be TRANSFER transactions")
	}
	if a.AssetID != b.AssetID {
		return "", fmt.Errorf("transfer legs must share an asset")
	}
	if a.AccountID == b.AccountID {
		return "", fmt.Errorf("transfer legs must be in different accounts")
	}

	token := models.ManualMatchPrefix + uuid.New().String()[:12]
	if err := store.SetExternalReference(ctx, legA, token); err != nil {
		return "", err
	}
	if err := store.SetExternalReference(ctx, legB, token); err != nil {
		return "", err
	}

	s.logger.Info().Int64("leg_a", legA).Int64("leg_b", legB).Str("reference", token).Msg("Transfer legs matched")
	return token, nil
}

// RecordTransaction validates and stores a manually entered transaction.
func (s *Service) RecordTransaction(ctx context.Context, tx *models.LedgerTransaction) error {
	if err := s.validateTransaction(tx); err != nil {
		return err
	}

	if _, err := s.storage.AccountStore().Get(ctx, tx.AccountID); err != nil {
		return fmt.Errorf("account %d: %w", tx.AccountID, err)
	}
	asset, err := s.storage.AssetStore().Get(ctx, tx.AssetID)
	if err != nil {
		return fmt.Errorf("asset %d: %w", tx.AssetID, err)
	}

	tx.UnitPriceInBase, tx.TotalValueInBase = ledger.DeriveMissingValuation(tx.Quantity, tx.UnitPriceInBase, tx.TotalValueInBase)
	if !s.engine.Options().ValuationConsistent(tx.Quantity, tx.UnitPriceInBase, tx.TotalValueInBase) {
		s.logger.Warn().
			Str("asset", asset.Symbol).
			Str("quantity", tx.Quantity.Decimal.String()).
			Str("unit_price", tx.UnitPriceInBase.Decimal.String()).
			Str("total_value", tx.TotalValueInBase.Decimal.String()).
			Msg("Transaction price and total disagree")
	}
	if tx.Source == "" {
		tx.Source = models.SourceManual
	}
	tx.DateTime = tx.DateTime.UTC()

	if err := s.storage.TransactionStore().Insert(ctx, tx); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// ErrInvalidTransaction wraps every validation failure from RecordTransaction.
var ErrInvalidTransaction = errors.New("invalid transaction")

func (s *Service) validateTransaction(tx *models.LedgerTransaction) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, fmt.Sprintf(format, args...))
	}
	if !models.ValidTxType(tx.TxType) {
		return invalid("unknown type %q", tx.TxType)
	}
	if tx.AccountID <= 0 {
		return invalid("account is required")
	}
	if tx.AssetID <= 0 {
		return invalid("asset is required")
	}
	if tx.DateTime.IsZero() {
		return invalid("date is required")
	}
	if tx.DateTime.After(s.now().Add(24 * time.Hour)) {
		return invalid("date cannot be in the future")
	}
	if tx.TxType != models.TxCostBasisReset && !tx.Quantity.Valid {
		return invalid("quantity is required")
	}
	if tx.TxType == models.TxTransfer && tx.Quantity.Decimal.IsZero() {
		return invalid("transfer quantity must not be zero")
	}
	if strings.HasPrefix(tx.ExternalReference, models.ResetReferencePrefix) {
		return invalid("reference prefix %s is reserved", models.ResetReferencePrefix)
	}
	if len(tx.Notes) > 500 {
		return invalid("notes exceed 500 characters")
	}
	return nil
}
