package txmanager

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
)

const testChainID = uint64(10)

type fakeClient struct {
	mu           sync.Mutex
	baseFee      *big.Int
	tip          *big.Int
	gasPrice     *big.Int
	pendingNonce uint64
	estimateErr  error
	sendErr      func(tx *types.Transaction) error
	sent         []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		baseFee:  big.NewInt(10 * params.GWei),
		tip:      big.NewInt(2 * params.GWei),
		gasPrice: big.NewInt(5 * params.GWei),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeClient) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	header := &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}
	if number != nil && number.Sign() > 0 {
		header.Number = new(big.Int).Set(number)
	}
	header.Time = 1700000000 + header.Number.Uint64()*2
	return header, nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	sendErr := f.sendErr
	f.mu.Unlock()
	if sendErr != nil {
		if err := sendErr(tx); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.tip), nil
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100000, nil
}

func (f *fakeClient) mine(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: big.NewInt(42), TxHash: hash}
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSink struct {
	stuck []*db.InFlightTransaction
}

func (s *fakeSink) TransactionStuck(tx *db.InFlightTransaction) { s.stuck = append(s.stuck, tx) }

func (s *fakeSink) RelayReverted(*db.Message, *db.InFlightTransaction) {}

func (s *fakeSink) FatalExit(string, error) {}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testSigner(t *testing.T) Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(testChainID))
	require.NoError(t, err)
	return NewTransactOptsSigner(opts)
}

func testConfig() Config {
	return Config{
		BoostInterval:     3 * time.Minute,
		MultiplierBips:    11000,
		MaxMultiplierBips: 12500,
		MaxBoosts:         5,
	}
}

func newTestManager(t *testing.T, client *fakeClient, cfg Config) (*Manager, *fakeSink, *testClock) {
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	sink := &fakeSink{}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	m := New(testChainID, client, testSigner(t), database, cfg, sink, nil, zap.NewNop())
	m.now = clock.Now
	require.NoError(t, m.Init(context.Background()))
	return m, sink, clock
}

func testRequest(meta string) Request {
	return Request{To: common.HexToAddress("0x0a992d191deec32afe36203ad87d7d289a738f81"), Data: []byte{0x57, 0xec, 0xfd, 0x28}, Meta: meta}
}

func TestBoostFee(t *testing.T) {
	base := big.NewInt(100 * params.GWei)
	expected := []int64{100, 110, 121, 125, 125, 125}
	for k, gwei := range expected {
		fee := BoostFee(base, k, 11000, 12500)
		require.Equal(t, new(big.Int).Mul(big.NewInt(gwei), big.NewInt(params.GWei)), fee, "boost %d", k)
	}

	// never above the ceiling and never below the base
	for k := 0; k < 20; k++ {
		fee := BoostFee(big.NewInt(123456789), k, 11000, 12500)
		require.LessOrEqual(t, fee.Int64(), int64(123456789*125/100))
		require.GreaterOrEqual(t, fee.Int64(), int64(123456789))
	}
}

func TestSubmitConcurrentNonces(t *testing.T) {
	client := newFakeClient()
	client.pendingNonce = 5
	m, _, _ := newTestManager(t, client, testConfig())

	var wg sync.WaitGroup
	nonces := make(chan uint64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := m.Submit(context.Background(), testRequest("meta"))
			require.NoError(t, err)
			nonces <- tx.Nonce
		}()
	}
	wg.Wait()
	close(nonces)

	seen := map[uint64]bool{}
	for n := range nonces {
		seen[n] = true
	}
	require.Equal(t, map[uint64]bool{5: true, 6: true}, seen)

	next, ok, err := m.repo.GetNonce()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), next)
}

func TestSubmitPersistsBeforeBroadcast(t *testing.T) {
	client := newFakeClient()
	m, _, _ := newTestManager(t, client, testConfig())

	client.sendErr = func(tx *types.Transaction) error {
		stored, ok, err := m.repo.Get(tx.Nonce())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tx.Hash(), stored.TxHash)
		require.False(t, stored.Sent)
		return nil
	}

	tx, err := m.Submit(context.Background(), testRequest("meta"))
	require.NoError(t, err)
	require.True(t, tx.Sent)
	require.Equal(t, 1, client.sentCount())
	require.Equal(t, big.NewInt(2*params.GWei), tx.GasTipCap)
	require.Equal(t, big.NewInt(22*params.GWei), tx.GasFeeCap)
	require.NotEmpty(t, tx.ID)
}

func TestPollWaitsForSubmit(t *testing.T) {
	client := newFakeClient()
	m, _, _ := newTestManager(t, client, testConfig())
	ctx := context.Background()

	polled := make(chan error, 1)
	client.sendErr = func(*types.Transaction) error {
		go func() { polled <- m.Poll(ctx) }()
		select {
		case <-polled:
			t.Error("poll ran while the transaction was being broadcast")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	}

	tx, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)
	require.True(t, tx.Sent)
	require.NoError(t, <-polled)

	// the record was sent once by Submit; the poll saw it sent and left it alone
	require.Equal(t, 1, client.sentCount())
	stored, ok, err := m.repo.Get(tx.Nonce)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, stored.BoostCount)
}

func TestBoostThenConfirm(t *testing.T) {
	client := newFakeClient()
	m, _, clock := newTestManager(t, client, testConfig())
	ctx := context.Background()

	tx, err := m.Submit(ctx, testRequest("0xmessage"))
	require.NoError(t, err)
	original := tx.TxHash

	// nothing happens before the boost interval
	clock.Advance(time.Minute)
	require.NoError(t, m.Poll(ctx))
	require.Equal(t, 1, client.sentCount())

	clock.Advance(3 * time.Minute)
	require.NoError(t, m.Poll(ctx))
	require.Equal(t, 2, client.sentCount())

	boosted, ok, err := m.LatestByMeta(ctx, "0xmessage")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, boosted.BoostCount)
	require.Equal(t, tx.Nonce, boosted.Nonce)
	require.Equal(t, []common.Hash{original}, boosted.PreviousTxHashes)
	require.NotEqual(t, original, boosted.TxHash)
	require.Equal(t, big.NewInt(2200000000), boosted.GasTipCap)
	require.Equal(t, big.NewInt(24200000000), boosted.GasFeeCap)

	// the original hash gets mined
	client.mine(original, types.ReceiptStatusSuccessful)
	require.NoError(t, m.Poll(ctx))

	confirmed, ok, err := m.LatestByMeta(ctx, "0xmessage")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, db.TxStatusConfirmed, confirmed.Status)
	require.Equal(t, original, confirmed.ConfirmedTxHash)
	require.Equal(t, uint64(42), confirmed.ConfirmedBlock)
	require.Equal(t, uint64(1700000084), confirmed.ConfirmedBlockTimestamp)

	live, err := m.repo.Live()
	require.NoError(t, err)
	require.Empty(t, live)
}

func TestRevertedReceipt(t *testing.T) {
	client := newFakeClient()
	m, _, _ := newTestManager(t, client, testConfig())
	ctx := context.Background()

	tx, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)
	client.mine(tx.TxHash, types.ReceiptStatusFailed)
	require.NoError(t, m.Poll(ctx))

	stored, ok, err := m.repo.Get(tx.Nonce)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, db.TxStatusReverted, stored.Status)
}

func TestStuckAfterMaxBoosts(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.MaxBoosts = 1
	m, sink, clock := newTestManager(t, client, cfg)
	ctx := context.Background()

	tx, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Poll(ctx))
	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Poll(ctx))
	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Poll(ctx))

	require.Len(t, sink.stuck, 1)
	stored, _, err := m.repo.Get(tx.Nonce)
	require.NoError(t, err)
	require.True(t, stored.Stuck)
	require.Equal(t, db.TxStatusPending, stored.Status)

	// a stuck transaction is still watched
	client.mine(stored.TxHash, types.ReceiptStatusSuccessful)
	require.NoError(t, m.Poll(ctx))
	stored, _, err = m.repo.Get(tx.Nonce)
	require.NoError(t, err)
	require.Equal(t, db.TxStatusConfirmed, stored.Status)
}

func TestZeroMaxBoostsDisablesBoosting(t *testing.T) {
	zero := 0
	cfg := NewConfig(config.TxManagerConfig{GasPriceMultiplier: 1.1, MaxGasPriceMultiplier: 1.25, MaxBoosts: &zero, BoostInterval: 3 * time.Minute})
	require.Zero(t, cfg.MaxBoosts)
	require.Equal(t, config.DefaultMaxBoosts, NewConfig(config.TxManagerConfig{}).MaxBoosts)

	client := newFakeClient()
	m, sink, clock := newTestManager(t, client, cfg)
	ctx := context.Background()

	_, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Poll(ctx))
	require.Len(t, sink.stuck, 1)
	require.Equal(t, 1, client.sentCount())
}

func TestStuckWhenFeesCannotIncrease(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.MaxGasPrice = big.NewInt(22 * params.GWei)
	m, sink, clock := newTestManager(t, client, cfg)
	ctx := context.Background()

	_, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Poll(ctx))
	require.Len(t, sink.stuck, 1)
	require.Equal(t, 1, client.sentCount())
}

func TestSubmitNonceTooLow(t *testing.T) {
	client := newFakeClient()
	m, _, _ := newTestManager(t, client, testConfig())

	client.pendingNonce = 9
	client.sendErr = func(*types.Transaction) error { return errors.New("nonce too low: next nonce 9, tx nonce 0") }

	_, err := m.Submit(context.Background(), testRequest("meta"))
	require.ErrorIs(t, err, ErrNonceTooLow)

	_, ok, err := m.repo.Get(0)
	require.NoError(t, err)
	require.False(t, ok)
	next, _, err := m.repo.GetNonce()
	require.NoError(t, err)
	require.Equal(t, uint64(9), next)
}

func TestSubmitRollsBackOnError(t *testing.T) {
	client := newFakeClient()
	client.pendingNonce = 3
	m, _, _ := newTestManager(t, client, testConfig())

	client.sendErr = func(*types.Transaction) error { return errors.New("insufficient funds for gas * price + value") }
	_, err := m.Submit(context.Background(), testRequest("meta"))
	require.Error(t, err)

	_, ok, err := m.repo.Get(3)
	require.NoError(t, err)
	require.False(t, ok)
	next, _, err := m.repo.GetNonce()
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)

	client.sendErr = nil
	tx, err := m.Submit(context.Background(), testRequest("meta"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), tx.Nonce)
}

func TestRetryableBroadcastIsResent(t *testing.T) {
	client := newFakeClient()
	m, _, _ := newTestManager(t, client, testConfig())
	ctx := context.Background()

	client.sendErr = func(*types.Transaction) error { return errors.New("dial tcp: connection refused") }
	tx, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)
	require.False(t, tx.Sent)

	client.sendErr = nil
	require.NoError(t, m.Poll(ctx))
	stored, _, err := m.repo.Get(tx.Nonce)
	require.NoError(t, err)
	require.True(t, stored.Sent)
	require.Equal(t, 1, client.sentCount())
}

func TestEstimateGasRevert(t *testing.T) {
	client := newFakeClient()
	client.estimateErr = errors.New("execution reverted: Nonce already used")
	m, _, _ := newTestManager(t, client, testConfig())

	_, err := m.Submit(context.Background(), testRequest("meta"))
	require.True(t, IsExecutionRevertError(err))

	next, _, err := m.repo.GetNonce()
	require.NoError(t, err)
	require.Equal(t, uint64(0), next)
}

func TestLegacyFees(t *testing.T) {
	client := newFakeClient()
	client.baseFee = nil
	m, _, clock := newTestManager(t, client, testConfig())
	ctx := context.Background()

	tx, err := m.Submit(ctx, testRequest("meta"))
	require.NoError(t, err)
	require.True(t, tx.IsLegacy())
	require.Equal(t, big.NewInt(5*params.GWei), tx.GasPrice)

	clock.Advance(4 * time.Minute)
	require.NoError(t, m.Poll(ctx))
	stored, _, err := m.repo.Get(tx.Nonce)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5500000000), stored.GasPrice)
}

func TestInitNonce(t *testing.T) {
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer database.Close()

	client := newFakeClient()
	client.pendingNonce = 3
	signer := testSigner(t)
	require.NoError(t, db.NewTxRepository(database, testChainID, signer.Address()).SetNonce(20))

	m := New(testChainID, client, signer, database, testConfig(), nil, nil, zap.NewNop())
	require.NoError(t, m.Init(context.Background()))
	require.Equal(t, uint64(20), m.nextNonce)

	cfg := testConfig()
	cfg.SyncNonceOnStart = true
	m = New(testChainID, client, signer, database, cfg, nil, nil, zap.NewNop())
	require.NoError(t, m.Init(context.Background()))
	require.Equal(t, uint64(3), m.nextNonce)
}

func TestSubmitBeforeInit(t *testing.T) {
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer database.Close()

	m := New(testChainID, newFakeClient(), testSigner(t), database, testConfig(), nil, nil, zap.NewNop())
	_, err = m.Submit(context.Background(), testRequest("meta"))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestErrorParsing(t *testing.T) {
	require.True(t, isNonceTooLow(errors.New("nonce too low")))
	require.True(t, isNonceTooLow(errors.New("NONCE_EXPIRED")))
	require.True(t, isNonceTooLow(errors.New("invalid transaction nonce")))
	require.False(t, isNonceTooLow(errors.New("insufficient funds")))
	require.True(t, isAlreadyKnown(errors.New("already known")))
	require.True(t, isUnderpriced(errors.New("replacement transaction underpriced")))
}
