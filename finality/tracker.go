package finality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/evmclient"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
)

// Tracker polls each chain's Strategy and persists a FinalityRecord whose safe block never decreases.
type Tracker struct {
	logger  *zap.Logger
	repo    *db.FinalityRepository
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	strategies map[uint64]Strategy
}

func NewTracker(repo *db.FinalityRepository, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		logger:     logger.Named("finality"),
		repo:       repo,
		metrics:    m,
		now:        time.Now,
		strategies: make(map[uint64]Strategy),
	}
}

func (t *Tracker) Register(chainID uint64, strategy Strategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strategies[chainID] = strategy
}

// Poll returns the unit of work refreshing chainID, for use with a poller.
func (t *Tracker) Poll(chainID uint64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := t.Refresh(ctx, chainID)
		return err
	}
}

// Refresh asks the chain's strategy for tip and safe block and applies them.
// Retryable RPC failures and "not yet available" skip the cycle without error.
func (t *Tracker) Refresh(ctx context.Context, chainID uint64) (uint64, error) {
	t.mu.RLock()
	strategy, ok := t.strategies[chainID]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("no finality strategy registered for chain %d", chainID)
	}
	logger := t.logger.With(zap.Uint64("chain", chainID))

	tip, err := strategy.BlockNumber(ctx)
	if err != nil {
		if evmclient.IsRetryable(err) {
			logger.Warn("failed to get chain tip, skipping cycle", zap.Error(err))
			return 0, nil
		}
		return 0, fmt.Errorf("chain %d tip: %w", chainID, err)
	}

	safe, err := strategy.CustomBlockNumber(ctx)
	if err != nil {
		switch {
		case IsNotYetAvailable(err):
			logger.Debug("safe block not yet available", zap.Uint64("tip", tip))
			return 0, nil
		case evmclient.IsRetryable(err):
			logger.Warn("failed to get safe block, skipping cycle", zap.Error(err))
			return 0, nil
		default:
			return 0, fmt.Errorf("chain %d safe block: %w", chainID, err)
		}
	}

	return t.Apply(chainID, tip, safe)
}

// Apply records tip and safe for chainID and returns the safe block now on record.
// A safe block lower than the recorded one is discarded.
func (t *Tracker) Apply(chainID uint64, tip uint64, safe uint64) (uint64, error) {
	record, ok, err := t.repo.Get(chainID)
	if err != nil {
		return 0, err
	}
	if !ok {
		record = &db.FinalityRecord{ChainID: chainID}
	}

	if safe < record.SafeBlock {
		t.logger.Warn("discarding lower safe block",
			zap.Uint64("chain", chainID), zap.Uint64("computed", safe), zap.Uint64("recorded", record.SafeBlock))
		safe = record.SafeBlock
	}
	if tip > record.Tip {
		record.Tip = tip
	}
	record.SafeBlock = safe
	record.PolledAt = t.now()

	if err := t.repo.Put(record); err != nil {
		return 0, err
	}

	t.metrics.SetChainTip(chainID, record.Tip)
	t.metrics.SetSafeBlock(chainID, record.SafeBlock)
	return record.SafeBlock, nil
}

// SafeBlockNumber returns the recorded safe block of chainID. ok is false before the first poll.
func (t *Tracker) SafeBlockNumber(_ context.Context, chainID uint64) (uint64, bool, error) {
	record, ok, err := t.repo.Get(chainID)
	if err != nil || !ok {
		return 0, false, err
	}

	return record.SafeBlock, true, nil
}
