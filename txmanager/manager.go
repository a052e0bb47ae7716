package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/alert"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/evmclient"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
)

type ChainClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

type Request struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	// Meta links the transaction to the caller's record, e.g. a message hash.
	Meta string
}

type Config struct {
	BoostInterval        time.Duration
	MultiplierBips       uint64
	MaxMultiplierBips    uint64
	PriorityFeePerGasCap *big.Int
	MaxGasPrice          *big.Int
	MaxBoosts            int
	SyncNonceOnStart     bool
}

func NewConfig(cfg config.TxManagerConfig) Config {
	maxBoosts := config.DefaultMaxBoosts
	if cfg.MaxBoosts != nil {
		maxBoosts = *cfg.MaxBoosts
	}
	return Config{
		BoostInterval:        cfg.BoostInterval,
		MultiplierBips:       toBips(cfg.GasPriceMultiplier),
		MaxMultiplierBips:    toBips(cfg.MaxGasPriceMultiplier),
		PriorityFeePerGasCap: gweiToWei(cfg.PriorityFeePerGasCapGwei),
		MaxGasPrice:          gweiToWei(cfg.MaxGasPriceGwei),
		MaxBoosts:            maxBoosts,
		SyncNonceOnStart:     cfg.SyncNonceOnStart,
	}
}

// Manager submits transactions for one account on one chain and boosts their fees until they land.
type Manager struct {
	chainID uint64
	client  ChainClient
	signer  Signer
	repo    *db.TxRepository
	cfg     Config
	alerts  alert.Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	nonceMu     sync.Mutex
	nextNonce   uint64
	initialized bool
}

func New(chainID uint64, client ChainClient, signer Signer, database db.IDB, cfg Config,
	alerts alert.Sink, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		chainID: chainID,
		client:  client,
		signer:  signer,
		repo:    db.NewTxRepository(database, chainID, signer.Address()),
		cfg:     cfg,
		alerts:  alerts,
		metrics: m,
		logger:  logger.Named("txmanager").With(zap.Uint64("chain", chainID), zap.Stringer("account", signer.Address())),
		now:     time.Now,
	}
}

func (m *Manager) ChainID() uint64 {
	return m.chainID
}

func (m *Manager) Address() common.Address {
	return m.signer.Address()
}

// Init loads the nonce counter. The chain's pending nonce is consulted only when no counter
// is stored yet or SyncNonceOnStart is set.
func (m *Manager) Init(ctx context.Context) error {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()

	next, ok, err := m.repo.GetNonce()
	if err != nil {
		return err
	}

	if !ok || m.cfg.SyncNonceOnStart {
		pending, err := m.client.PendingNonceAt(ctx, m.signer.Address())
		if err != nil {
			return fmt.Errorf("pending nonce: %w", err)
		}

		// keep clear of nonces still held by live records
		live, err := m.repo.Live()
		if err != nil {
			return err
		}
		for _, tx := range live {
			if tx.Nonce >= pending {
				pending = tx.Nonce + 1
			}
		}

		if ok && pending != next {
			m.logger.Warn("resyncing nonce counter", zap.Uint64("stored", next), zap.Uint64("pending", pending))
		}
		next = pending
		if err := m.repo.SetNonce(next); err != nil {
			return err
		}
	}

	m.nextNonce = next
	m.initialized = true
	m.logger.Info("transaction manager initialized", zap.Uint64("nextNonce", next))
	return nil
}

// Submit assigns the next nonce, signs and persists the transaction, then broadcasts it.
// A retryable broadcast failure still returns the record, which Poll broadcasts again.
func (m *Manager) Submit(ctx context.Context, req Request) (*db.InFlightTransaction, error) {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	nonce := m.nextNonce
	from := m.signer.Address()

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimated, err := m.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &req.To, Value: req.Value, Data: req.Data})
		if err != nil {
			if evmclient.IsExecutionReverted(err) {
				return nil, &ExecutionRevertError{Err: err}
			}
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = estimated
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	now := m.now()
	record := &db.InFlightTransaction{
		ID:          uuid.NewString(),
		ChainID:     m.chainID,
		Account:     from,
		Nonce:       nonce,
		Meta:        req.Meta,
		To:          req.To,
		Data:        req.Data,
		Value:       value,
		GasLimit:    gasLimit,
		CreatedTime: now,
		Status:      db.TxStatusPending,
	}
	if err := m.initialFees(ctx, record); err != nil {
		return nil, err
	}
	signed, err := m.sign(record)
	if err != nil {
		return nil, err
	}

	if err := m.repo.SaveWithNonce(record, nonce+1); err != nil {
		return nil, err
	}
	m.nextNonce = nonce + 1
	m.metrics.IncTxSubmitted(m.chainID)

	logger := m.logger.With(zap.String("id", record.ID), zap.Uint64("nonce", nonce), zap.String("meta", record.Meta))
	err = m.broadcast(ctx, record, signed)
	switch {
	case err == nil:
		logger.Info("transaction sent", zap.Stringer("txHash", record.TxHash))
		return record, nil
	case evmclient.IsRetryable(err):
		logger.Warn("broadcast failed, will retry", zap.Error(err))
		return record, nil
	case isNonceTooLow(err):
		pending, pendingErr := m.client.PendingNonceAt(ctx, from)
		if pendingErr != nil {
			return nil, fmt.Errorf("pending nonce: %w", pendingErr)
		}
		if err := m.repo.DeleteWithNonce(nonce, pending); err != nil {
			return nil, err
		}
		m.nextNonce = pending
		logger.Warn("nonce too low, counter resynced", zap.Uint64("pending", pending), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNonceTooLow, err)
	default:
		if err := m.repo.DeleteWithNonce(nonce, nonce); err != nil {
			return nil, err
		}
		m.nextNonce = nonce
		return nil, fmt.Errorf("send transaction: %w", err)
	}
}

// LatestByMeta returns the newest record submitted with meta.
func (m *Manager) LatestByMeta(_ context.Context, meta string) (*db.InFlightTransaction, bool, error) {
	return m.repo.LatestByMeta(meta)
}

// Poll walks every unconfirmed record: it looks for receipts, re-broadcasts what was never
// sent and boosts fees of what stayed unmined for longer than the boost interval.
func (m *Manager) Poll(ctx context.Context) error {
	// a record saved by Submit is not broadcast until Submit returns; polling it in between
	// would send it twice or delete it under Submit's feet.
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()

	live, err := m.repo.Live()
	if err != nil {
		return err
	}

	for _, record := range live {
		if err := m.pollOne(ctx, record); err != nil {
			if evmclient.IsRetryable(err) {
				m.logger.Warn("failed to poll transaction", zap.Uint64("nonce", record.Nonce), zap.Error(err))
				continue
			}
			return err
		}
	}

	return nil
}

func (m *Manager) pollOne(ctx context.Context, record *db.InFlightTransaction) error {
	found, err := m.checkReceipts(ctx, record)
	if err != nil || found {
		return err
	}

	if !record.Sent {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(record.RawTx); err != nil {
			return fmt.Errorf("decode stored transaction %s: %w", record.ID, err)
		}
		err := m.broadcast(ctx, record, tx)
		if !isUnderpriced(err) {
			return m.handleRebroadcast(ctx, record, err)
		}
		// an underpriced replacement only gets out by boosting again
	}

	if record.Stuck || m.now().Sub(record.SubmittedAt) < m.cfg.BoostInterval {
		return nil
	}
	if record.BoostCount >= m.cfg.MaxBoosts {
		return m.markStuck(record)
	}

	return m.boost(ctx, record)
}

func (m *Manager) checkReceipts(ctx context.Context, record *db.InFlightTransaction) (bool, error) {
	for _, hash := range record.Hashes() {
		receipt, err := m.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			return false, evmclient.AsRetryable(err)
		}

		record.Status = db.TxStatusConfirmed
		if receipt.Status != types.ReceiptStatusSuccessful {
			record.Status = db.TxStatusReverted
		}
		record.ConfirmedTxHash = hash
		if receipt.BlockNumber != nil {
			header, err := m.client.HeaderByNumber(ctx, receipt.BlockNumber)
			if err != nil {
				return false, evmclient.AsRetryable(err)
			}
			record.ConfirmedBlock = receipt.BlockNumber.Uint64()
			if header != nil {
				record.ConfirmedBlockTimestamp = header.Time
			}
		}
		record.ConfirmedAt = m.now()
		if err := m.repo.Save(record); err != nil {
			return false, err
		}

		m.metrics.IncTxConfirmed(m.chainID, string(record.Status))
		m.logger.Info("transaction mined", zap.Uint64("nonce", record.Nonce), zap.Stringer("txHash", hash),
			zap.String("status", string(record.Status)), zap.Int("boosts", record.BoostCount))
		return true, nil
	}

	return false, nil
}

func (m *Manager) boost(ctx context.Context, record *db.InFlightTransaction) error {
	if !m.boostFees(record) {
		return m.markStuck(record)
	}

	signed, err := m.sign(record)
	if err != nil {
		return err
	}
	if err := m.repo.Save(record); err != nil {
		return err
	}
	m.metrics.IncTxBoosted(m.chainID)
	m.logger.Info("boosting transaction", zap.Uint64("nonce", record.Nonce), zap.Int("boost", record.BoostCount),
		zap.Stringer("txHash", record.TxHash))

	return m.handleRebroadcast(ctx, record, m.broadcast(ctx, record, signed))
}

// boostFees raises the fees of record one step and reports whether anything increased.
func (m *Manager) boostFees(record *db.InFlightTransaction) bool {
	boosts := record.BoostCount + 1

	if record.IsLegacy() {
		price := BoostFee(record.InitialGasPrice, boosts, m.cfg.MultiplierBips, m.cfg.MaxMultiplierBips)
		price = clampBig(price, m.cfg.MaxGasPrice)
		if price.Cmp(record.GasPrice) <= 0 {
			return false
		}
		record.GasPrice = price
	} else {
		tip := BoostFee(record.InitialGasTipCap, boosts, m.cfg.MultiplierBips, m.cfg.MaxMultiplierBips)
		tip = clampBig(tip, m.cfg.PriorityFeePerGasCap)
		feeCap := BoostFee(record.InitialGasFeeCap, boosts, m.cfg.MultiplierBips, m.cfg.MaxMultiplierBips)
		feeCap = clampBig(feeCap, m.cfg.MaxGasPrice)
		if feeCap.Cmp(record.GasFeeCap) <= 0 {
			return false
		}
		record.GasTipCap = minBig(tip, feeCap)
		record.GasFeeCap = feeCap
	}

	record.PreviousTxHashes = append(record.PreviousTxHashes, record.TxHash)
	record.BoostCount = boosts
	return true
}

// handleRebroadcast settles the outcome of a broadcast done from Poll.
func (m *Manager) handleRebroadcast(ctx context.Context, record *db.InFlightTransaction, err error) error {
	switch {
	case err == nil:
		return nil
	case evmclient.IsRetryable(err):
		return err
	case isUnderpriced(err):
		m.logger.Warn("replacement underpriced, waiting for next boost", zap.Uint64("nonce", record.Nonce), zap.Error(err))
		return nil
	case isNonceTooLow(err):
		// one of the earlier hashes may have just been mined
		found, checkErr := m.checkReceipts(ctx, record)
		if checkErr != nil || found {
			return checkErr
		}
		record.Status = db.TxStatusDropped
		m.logger.Warn("nonce consumed by another transaction, dropping record", zap.Uint64("nonce", record.Nonce), zap.Error(err))
		return m.repo.Save(record)
	default:
		m.logger.Warn("broadcast failed", zap.Uint64("nonce", record.Nonce), zap.Error(err))
		return nil
	}
}

func (m *Manager) markStuck(record *db.InFlightTransaction) error {
	if record.Stuck {
		return nil
	}

	record.Stuck = true
	if err := m.repo.Save(record); err != nil {
		return err
	}
	m.metrics.IncTxStuck(m.chainID)
	if m.alerts != nil {
		m.alerts.TransactionStuck(record)
	}
	return nil
}

func (m *Manager) initialFees(ctx context.Context, record *db.InFlightTransaction) error {
	head, err := m.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := m.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("suggest gas price: %w", err)
		}
		price = clampBig(price, m.cfg.MaxGasPrice)
		record.GasPrice = price
		record.InitialGasPrice = new(big.Int).Set(price)
		return nil
	}

	tip, err := m.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas tip cap: %w", err)
	}
	tip = clampBig(tip, m.cfg.PriorityFeePerGasCap)
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	feeCap = clampBig(feeCap, m.cfg.MaxGasPrice)
	tip = minBig(tip, feeCap)

	record.GasTipCap = tip
	record.GasFeeCap = feeCap
	record.InitialGasTipCap = new(big.Int).Set(tip)
	record.InitialGasFeeCap = new(big.Int).Set(feeCap)
	return nil
}

// sign builds the transaction described by record, signs it and stores hash and raw bytes on record.
func (m *Manager) sign(record *db.InFlightTransaction) (*types.Transaction, error) {
	to := record.To
	var unsigned *types.Transaction
	if record.IsLegacy() {
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    record.Nonce,
			GasPrice: record.GasPrice,
			Gas:      record.GasLimit,
			To:       &to,
			Value:    record.Value,
			Data:     record.Data,
		})
	} else {
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(m.chainID),
			Nonce:     record.Nonce,
			GasTipCap: record.GasTipCap,
			GasFeeCap: record.GasFeeCap,
			Gas:       record.GasLimit,
			To:        &to,
			Value:     record.Value,
			Data:      record.Data,
		})
	}

	signed, err := m.signer.SignTx(unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}

	record.TxHash = signed.Hash()
	record.RawTx = raw
	record.Sent = false
	record.SubmittedAt = m.now()
	return signed, nil
}

func (m *Manager) broadcast(ctx context.Context, record *db.InFlightTransaction, tx *types.Transaction) error {
	err := m.client.SendTransaction(ctx, tx)
	if err != nil && !isAlreadyKnown(err) {
		return evmclient.AsRetryable(err)
	}

	record.Sent = true
	return m.repo.Save(record)
}
