package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/evmclient"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
)

const (
	DefaultMaxBlockRange = uint64(1000)

	catchUpRetryDelay    = time.Second
	catchUpRetryMaxDelay = 30 * time.Second
)

// Decoder turns a log into its lookup key and stored payload.
type Decoder func(log types.Log) (key string, payload []byte, err error)

type Filter struct {
	Name    string
	Topic   common.Hash
	Address common.Address
	Decode  Decoder
}

// Handler is called once for every newly stored event, after the event is committed.
type Handler func(ctx context.Context, event *db.StoredEvent) error

type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByHeight(ctx context.Context, height uint64) (*types.Header, error)
}

type Config struct {
	StartBlock    uint64
	MaxBlockRange uint64
}

// Indexer mirrors the logs of its filters on one chain into the event store.
type Indexer struct {
	chainID uint64
	client  ChainClient
	repo    *db.EventRepository
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	filters  []Filter
	handlers map[common.Hash][]Handler

	// serializes catch-up and live polling
	mu         sync.Mutex
	caughtUp   atomic.Bool
	retryDelay time.Duration
}

func New(chainID uint64, client ChainClient, database db.IDB, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Indexer {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}

	return &Indexer{
		chainID:    chainID,
		client:     client,
		repo:       db.NewEventRepository(database),
		cfg:        cfg,
		logger:     logger.Named("indexer").With(zap.Uint64("chain", chainID)),
		metrics:    m,
		handlers:   make(map[common.Hash][]Handler),
		retryDelay: catchUpRetryDelay,
	}
}

func (i *Indexer) ChainID() uint64 {
	return i.chainID
}

// AddFilter and Subscribe must be called before the indexer runs.
func (i *Indexer) AddFilter(filter Filter) {
	i.filters = append(i.filters, filter)
}

func (i *Indexer) Subscribe(topic common.Hash, handler Handler) {
	i.handlers[topic] = append(i.handlers[topic], handler)
}

func (i *Indexer) IsCaughtUp() bool {
	return i.caughtUp.Load()
}

// HasEvent reports whether an event with the lookup key has been indexed.
func (i *Indexer) HasEvent(topic common.Hash, lookup string) (bool, error) {
	return i.repo.HasEvent(i.chainID, topic, lookup)
}

func (i *Indexer) GetEvent(topic common.Hash, lookup string) (*db.StoredEvent, bool, error) {
	return i.repo.GetEvent(i.chainID, topic, lookup)
}

func (i *Indexer) Events(topic common.Hash, fn func(*db.StoredEvent) (bool, error)) error {
	return i.repo.Events(i.chainID, topic, fn)
}

// CatchUp indexes every filter up to the tip observed when it starts. Retryable RPC
// failures are retried until ctx is done.
func (i *Indexer) CatchUp(ctx context.Context) error {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(i.retryDelay),
		retry.MaxDelay(catchUpRetryMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(evmclient.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			i.logger.Warn("catch-up attempt failed", zap.Uint("attempt", n), zap.Error(err))
		}),
	}

	tip, err := retry.DoWithData(func() (uint64, error) {
		return i.client.BlockNumber(ctx)
	}, opts...)
	if err != nil {
		return fmt.Errorf("chain %d tip: %w", i.chainID, err)
	}

	i.logger.Info("catching up", zap.Uint64("tip", tip))
	for _, filter := range i.filters {
		filter := filter
		if err := retry.Do(func() error {
			return i.syncTo(ctx, filter, tip)
		}, opts...); err != nil {
			return fmt.Errorf("chain %d catch-up of %s: %w", i.chainID, filter.Name, err)
		}
	}

	i.caughtUp.Store(true)
	i.logger.Info("caught up", zap.Uint64("tip", tip))
	return nil
}

// Poll indexes new blocks once catch-up has completed. Retryable failures skip the cycle.
func (i *Indexer) Poll(ctx context.Context) error {
	if !i.caughtUp.Load() {
		return nil
	}

	tip, err := i.client.BlockNumber(ctx)
	if err != nil {
		if evmclient.IsRetryable(err) {
			i.logger.Warn("failed to get chain tip", zap.Error(err))
			return nil
		}
		return err
	}

	for _, filter := range i.filters {
		if err := i.syncTo(ctx, filter, tip); err != nil {
			if evmclient.IsRetryable(err) {
				i.logger.Warn("failed to index logs", zap.String("filter", filter.Name), zap.Error(err))
				return nil
			}
			return err
		}
	}
	return nil
}

func (i *Indexer) syncTo(ctx context.Context, filter Filter, target uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	from := i.cfg.StartBlock
	marker, ok, err := i.repo.GetSyncMarker(i.chainID, filter.Topic)
	if err != nil {
		return err
	}
	if ok && marker.LastSyncedBlock+1 > from {
		from = marker.LastSyncedBlock + 1
	}

	for from <= target {
		to := from + i.cfg.MaxBlockRange - 1
		if to > target {
			to = target
		}
		if err := i.syncRange(ctx, filter, from, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (i *Indexer) syncRange(ctx context.Context, filter Filter, from, to uint64) error {
	logs, err := i.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{filter.Address},
		Topics:    [][]common.Hash{{filter.Topic}},
	})
	if err != nil {
		return evmclient.AsRetryable(err)
	}

	events := make([]*db.StoredEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		key, payload, err := filter.Decode(log)
		if err != nil {
			i.logger.Warn("skipping undecodable log", zap.String("filter", filter.Name),
				zap.Stringer("txHash", log.TxHash), zap.Uint("logIndex", log.Index), zap.Error(err))
			continue
		}

		header, err := i.client.HeaderByHeight(ctx, log.BlockNumber)
		if err != nil {
			return evmclient.AsRetryable(err)
		}

		events = append(events, &db.StoredEvent{
			ChainID:        i.chainID,
			Topic:          filter.Topic,
			Address:        log.Address,
			BlockNumber:    log.BlockNumber,
			BlockHash:      log.BlockHash,
			BlockTimestamp: header.Time,
			TxHash:         log.TxHash,
			LogIndex:       log.Index,
			Key:            key,
			Payload:        payload,
		})
	}

	created, err := i.repo.StoreEvents(i.chainID, filter.Topic, events, to)
	if err != nil {
		return err
	}
	i.metrics.AddIndexedEvents(i.chainID, filter.Name, len(created))
	i.metrics.SetSyncedBlock(i.chainID, filter.Name, to)
	if len(created) > 0 {
		i.logger.Debug("indexed events", zap.String("filter", filter.Name),
			zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("created", len(created)))
	}

	for _, event := range created {
		for _, handler := range i.handlers[filter.Topic] {
			if err := handler(ctx, event); err != nil {
				return fmt.Errorf("handle %s event %s: %w", filter.Name, event.Key, err)
			}
		}
	}
	return nil
}
