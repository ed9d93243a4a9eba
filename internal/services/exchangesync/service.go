// Package exchangesync imports exchange activity into the ledger and
// reconciles ledger quantities against exchange-reported balances.
package exchangesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/ledger"
	"github.com/bobmcallan/tally/internal/models"
)

// driftEpsilon is the smallest balance difference that gets a reconciliation row.
var driftEpsilon = decimal.New(1, -9)

const cursorKeyPrefix = "sync_cursor:"

// Compile-time interface check
var _ interfaces.ExchangeSyncService = (*Service)(nil)

// Service implements ExchangeSyncService
type Service struct {
	storage interfaces.StorageManager
	client  interfaces.ExchangeClient
	engine  *ledger.Engine
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates a new exchange sync service
func NewService(storage interfaces.StorageManager, client interfaces.ExchangeClient, cfg common.LedgerConfig, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		client:  client,
		engine:  ledger.NewEngine(ledger.NewOptions(cfg)),
		logger:  logger,
		now:     time.Now,
	}
}

// CursorKey is the system KV key holding an account's last imported trade time.
func CursorKey(accountID int64) string {
	return cursorKeyPrefix + strconv.FormatInt(accountID, 10)
}

// SyncAccount imports trades executed since the stored cursor, then writes
// RECONCILIATION rows wherever the ledger disagrees with exchange balances.
func (s *Service) SyncAccount(ctx context.Context, accountID int64) (*models.SyncResult, error) {
	account, err := s.storage.AccountStore().Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsExchangeLinked() {
		return nil, fmt.Errorf("account %d is not linked to an exchange", accountID)
	}

	since, err := s.loadCursor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("account_id", accountID).Str("exchange", account.Exchange).Time("since", since).Msg("Syncing exchange account")

	trades, err := s.client.GetTrades(ctx, account.ExchangeAccountRef(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades from %s: %w", account.Exchange, err)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })

	result := &models.SyncResult{AccountID: accountID, Fetched: len(trades), Cursor: since}
	assets := newAssetResolver(s.storage.AssetStore(), s.engine.Options())

	for _, trade := range trades {
		rows, err := s.mapTrade(ctx, assets, accountID, trade)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			row := &rows[i]
			if !s.engine.Options().ValuationConsistent(row.Quantity, row.UnitPriceInBase, row.TotalValueInBase) {
				result.Inconsistent++
				s.logger.Warn().
					Int64("account_id", accountID).
					Str("external_id", row.ExternalID).
					Str("quantity", row.Quantity.Decimal.String()).
					Str("unit_price", row.UnitPriceInBase.Decimal.String()).
					Str("total_value", row.TotalValueInBase.Decimal.String()).
					Msg("Exchange price and total disagree")
			}
			inserted, err := s.storage.TransactionStore().UpsertByExternalID(ctx, row)
			if err != nil {
				return nil, fmt.Errorf("failed to store trade %s: %w", trade.ID, err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}
		}
		if trade.ExecutedAt.After(result.Cursor) {
			result.Cursor = trade.ExecutedAt.UTC()
		}
	}

	n, err := s.reconcileBalances(ctx, account, assets)
	if err != nil {
		return nil, err
	}
	result.Reconciliations = n

	if result.Cursor.After(since) {
		if err := s.storage.InternalStore().SetSystemKV(ctx, CursorKey(accountID), result.Cursor.Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("failed to save sync cursor: %w", err)
		}
	}
	if err := s.storage.AccountStore().MarkSynced(ctx, accountID, s.now()); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("account_id", accountID).
		Int("fetched", result.Fetched).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("reconciliations", result.Reconciliations).
		Int("inconsistent", result.Inconsistent).
		Msg("Exchange account synced")

	return result, nil
}

func (s *Service) loadCursor(ctx context.Context, accountID int64) (time.Time, error) {
	raw, err := s.storage.InternalStore().GetSystemKV(ctx, CursorKey(accountID))
	if errors.Is(err, interfaces.ErrNotFound) || (err == nil && raw == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load sync cursor: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn().Str("cursor", raw).Int64("account_id", accountID).Msg("Ignoring unreadable sync cursor")
		return time.Time{}, nil
	}
	return t, nil
}

// reconcileBalances replays the account's ledger and writes one RECONCILIATION
// row per asset whose quantity differs from the exchange balance. Assets the
// ledger holds but the exchange omits are treated as a zero balance.
func (s *Service) reconcileBalances(ctx context.Context, account *models.Account, assets *assetResolver) (int, error) {
	balances, err := s.client.GetBalances(ctx, account.ExchangeAccountRef())
	if err != nil {
		return 0, fmt.Errorf("failed to get balances from %s: %w", account.Exchange, err)
	}

	txs, err := s.storage.TransactionStore().List(ctx, models.TransactionFilter{AccountID: account.ID})
	if err != nil {
		return 0, fmt.Errorf("failed to load account ledger: %w", err)
	}
	res, err := s.engine.Run(txs, models.RecalcPure)
	if err != nil {
		return 0, err
	}

	expected := make(map[int64]decimal.Decimal)
	for _, b := range balances {
		asset, err := assets.resolve(ctx, b.Symbol)
		if err != nil {
			return 0, err
		}
		expected[asset.ID] = expected[asset.ID].Add(b.Total)
	}
	for _, p := range res.Positions {
		if _, ok := expected[p.AssetID]; !ok && !p.Quantity.IsZero() {
			expected[p.AssetID] = decimal.Zero
		}
	}

	assetIDs := make([]int64, 0, len(expected))
	for id := range expected {
		assetIDs = append(assetIDs, id)
	}
	sort.Slice(assetIDs, func(i, j int) bool { return assetIDs[i] < assetIDs[j] })

	now := s.now().UTC()
	written := 0
	for _, assetID := range assetIDs {
		held := decimal.Zero
		if p, ok := res.Position(assetID, account.ID); ok {
			held = p.Quantity
		}
		drift := expected[assetID].Sub(held)
		if drift.Abs().LessThanOrEqual(driftEpsilon) {
			continue
		}

		row := &models.LedgerTransaction{
			DateTime:   now,
			AccountID:  account.ID,
			AssetID:    assetID,
			Quantity:   decimal.NewNullDecimal(drift),
			TxType:     models.TxReconciliation,
			ExternalID: fmt.Sprintf("reconcile:%d:%d", assetID, now.UnixNano()),
			Source:     models.SourceExchange,
			Notes:      fmt.Sprintf("ledger %s, exchange %s", held, expected[assetID]),
		}
		if err := s.storage.TransactionStore().Insert(ctx, row); err != nil {
			return written, fmt.Errorf("failed to write reconciliation: %w", err)
		}
		written++
		s.logger.Warn().
			Int64("account_id", account.ID).
			Int64("asset_id", assetID).
			Str("drift", drift.String()).
			Msg("Balance drift reconciled")
	}
	return written, nil
}

// assetResolver finds or creates assets by symbol for the length of one sync.
type assetResolver struct {
	store interfaces.AssetStore
	opts  ledger.Options
	cache map[string]*models.Asset
}

func newAssetResolver(store interfaces.AssetStore, opts ledger.Options) *assetResolver {
	return &assetResolver{store: store, opts: opts, cache: make(map[string]*models.Asset)}
}

func (r *assetResolver) resolve(ctx context.Context, symbol string) (*models.Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty asset symbol")
	}
	if a, ok := r.cache[symbol]; ok {
		return a, nil
	}

	a, err := r.store.GetBySymbol(ctx, symbol)
	if errors.Is(err, interfaces.ErrNotFound) {
		a = &models.Asset{Symbol: symbol, Type: models.AssetTypeCrypto}
		if r.opts.IsCashLike(*a) {
			a.Type = models.AssetTypeStable
		}
		if err := r.store.Save(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to create asset %s: %w", symbol, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up asset %s: %w", symbol, err)
	}

	r.cache[symbol] = a
	return a, nil
}

func (r *assetResolver) cashLike(a *models.Asset) bool {
	return r.opts.IsCashLike(*a)
}
