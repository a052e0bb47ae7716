package finality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
)

type fakeBlockClient struct {
	tip    uint64
	tagged map[int64]uint64
	tipErr error
	tagErr error
}

func (f *fakeBlockClient) BlockNumber(context.Context) (uint64, error) {
	return f.tip, f.tipErr
}

func (f *fakeBlockClient) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	n, ok := f.tagged[number.Int64()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &types.Header{Number: new(big.Int).SetUint64(n)}, nil
}

type fakeCaller struct {
	results map[string]string
	calls   int
}

func (f *fakeCaller) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.calls++
	key := method
	if len(args) > 0 {
		key = fmt.Sprintf("%s:%v", method, args[0])
	}
	raw, ok := f.results[key]
	if !ok {
		return fmt.Errorf("unexpected call %s", key)
	}
	return json.Unmarshal([]byte(raw), result)
}

func TestFixedConfirmation(t *testing.T) {
	client := &fakeBlockClient{tip: 112}
	strategy := NewFixedConfirmation(client, 12)

	safe, err := strategy.CustomBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), safe)
	require.False(t, strategy.IsCustomBlockNumberImplemented())

	client.tip = 5
	_, err = strategy.CustomBlockNumber(context.Background())
	require.ErrorIs(t, err, ErrNotYetAvailable)
}

func TestNativeTag(t *testing.T) {
	client := &fakeBlockClient{tip: 500, tagged: map[int64]uint64{
		rpc.SafeBlockNumber.Int64():      480,
		rpc.FinalizedBlockNumber.Int64(): 420,
	}}

	safe, err := NewNativeTag(client, "safe")
	require.NoError(t, err)
	n, err := safe.CustomBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(480), n)

	finalized, err := NewNativeTag(client, "finalized")
	require.NoError(t, err)
	n, err = finalized.CustomBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(420), n)
	require.True(t, finalized.IsCustomBlockNumberImplemented())

	_, err = NewNativeTag(client, "pending")
	require.Error(t, err)
}

func TestInclusionOpStack(t *testing.T) {
	caller := &fakeCaller{results: map[string]string{
		"optimism_syncStatus": `{"safe_l2":{"number":"0x0"},"finalized_l2":{"number":"0x0"}}`,
	}}
	strategy := NewInclusion(&fakeBlockClient{tip: 900}, NewOpStackSyncStatus(caller, false))

	_, err := strategy.CustomBlockNumber(context.Background())
	require.ErrorIs(t, err, ErrNotYetAvailable)

	caller.results["optimism_syncStatus"] = `{"safe_l2":{"number":"0x64"},"finalized_l2":{"number":"0x32"}}`
	n, err := strategy.CustomBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), n)

	// served from cache
	calls := caller.calls
	n, err = strategy.CustomBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), n)
	require.Equal(t, calls, caller.calls)
}

func TestInclusionZkEvm(t *testing.T) {
	blockHash := "0x00000000000000000000000000000000000000000000000000000000000000ff"
	caller := &fakeCaller{results: map[string]string{
		"zkevm_verifiedBatchNumber":       `"0x1e"`,
		"zkevm_getBatchByNumber:0xc":      `{"number":"0xc","closed":true,"blocks":["` + blockHash + `"]}`,
		"eth_getBlockByHash:" + blockHash: `{"number":"0x3e8"}`,
	}}
	source := NewZkEvmBatches(caller, true)

	n, err := source.IncludedBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), n)

	caller.results["zkevm_verifiedBatchNumber"] = `"0x5"`
	_, err = source.IncludedBlockNumber(context.Background())
	require.ErrorIs(t, err, ErrNotYetAvailable)
}

func newTestTracker(t *testing.T) *Tracker {
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewTracker(db.NewFinalityRepository(database), zap.NewNop(), nil)
}

func TestTrackerIsMonotonic(t *testing.T) {
	tracker := newTestTracker(t)

	sequence := []uint64{100, 120, 90, 121, 50, 121, 200}
	var last uint64
	for _, computed := range sequence {
		applied, err := tracker.Apply(1, computed+12, computed)
		require.NoError(t, err)
		require.GreaterOrEqual(t, applied, last)
		last = applied
	}
	require.Equal(t, uint64(200), last)

	safe, ok, err := tracker.SafeBlockNumber(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(200), safe)
}

func TestTrackerRefresh(t *testing.T) {
	tracker := newTestTracker(t)
	client := &fakeBlockClient{tip: 111}
	tracker.Register(1, NewFixedConfirmation(client, 12))

	safe, err := tracker.Refresh(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(99), safe)

	// retryable failures skip the cycle
	client.tipErr = errors.New("429 too many requests")
	_, err = tracker.Refresh(context.Background(), 1)
	require.NoError(t, err)

	// anything else propagates
	client.tipErr = errors.New("method not supported")
	_, err = tracker.Refresh(context.Background(), 1)
	require.Error(t, err)

	_, err = tracker.Refresh(context.Background(), 2)
	require.Error(t, err)
}
