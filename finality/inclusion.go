package finality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	InclusionSourceOpStack = "op-stack"
	InclusionSourceZkEvm   = "zkevm"

	inclusionCacheTTL = 30 * time.Second

	// zkEVM exposes no L1 block for a batch, so finality looks back roughly 6 minutes
	// of batches (3 per minute) from the reported one.
	zkEvmBatchLookback = 18
)

// InclusionSource reports the newest L2 block whose data is included on the parent chain.
type InclusionSource interface {
	IncludedBlockNumber(ctx context.Context) (uint64, error)
	Name() string
}

// Inclusion derives finality on a rollup from its parent chain inclusion.
type Inclusion struct {
	client BlockClient
	source InclusionSource
	cache  *expirable.LRU[string, uint64]
}

func NewInclusion(client BlockClient, source InclusionSource) *Inclusion {
	return &Inclusion{
		client: client,
		source: source,
		cache:  expirable.NewLRU[string, uint64](1, nil, inclusionCacheTTL),
	}
}

func (i *Inclusion) BlockNumber(ctx context.Context) (uint64, error) {
	return i.client.BlockNumber(ctx)
}

func (i *Inclusion) CustomBlockNumber(ctx context.Context) (uint64, error) {
	if number, ok := i.cache.Get(i.source.Name()); ok {
		return number, nil
	}

	number, err := i.source.IncludedBlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	i.cache.Add(i.source.Name(), number)
	return number, nil
}

func (i *Inclusion) IsCustomBlockNumberImplemented() bool {
	return true
}

func (i *Inclusion) Policy() Policy {
	return PolicyInclusion
}

type l2BlockRef struct {
	Hash   common.Hash    `json:"hash"`
	Number hexutil.Uint64 `json:"number"`
}

type opSyncStatus struct {
	SafeL2      l2BlockRef `json:"safe_l2"`
	FinalizedL2 l2BlockRef `json:"finalized_l2"`
}

// OpStackSyncStatus reads safe_l2 or finalized_l2 from an OP-stack rollup node.
type OpStackSyncStatus struct {
	rollup    RPCCaller
	finalized bool
}

func NewOpStackSyncStatus(rollup RPCCaller, finalized bool) *OpStackSyncStatus {
	return &OpStackSyncStatus{rollup: rollup, finalized: finalized}
}

func (o *OpStackSyncStatus) Name() string {
	if o.finalized {
		return "op-stack-finalized"
	}
	return "op-stack-safe"
}

func (o *OpStackSyncStatus) IncludedBlockNumber(ctx context.Context) (uint64, error) {
	var status opSyncStatus
	if err := o.rollup.CallContext(ctx, &status, "optimism_syncStatus"); err != nil {
		return 0, err
	}

	ref := status.SafeL2
	if o.finalized {
		ref = status.FinalizedL2
	}
	if ref.Number == 0 {
		return 0, ErrNotYetAvailable
	}

	return uint64(ref.Number), nil
}

type zkEvmBatch struct {
	Number hexutil.Uint64 `json:"number"`
	Closed bool           `json:"closed"`
	Blocks []common.Hash  `json:"blocks"`
}

// ZkEvmBatches reads virtual (safe) or verified (finalized) batches from a Polygon zkEVM node.
type ZkEvmBatches struct {
	client   RPCCaller
	verified bool
}

func NewZkEvmBatches(client RPCCaller, verified bool) *ZkEvmBatches {
	return &ZkEvmBatches{client: client, verified: verified}
}

func (z *ZkEvmBatches) Name() string {
	if z.verified {
		return "zkevm-verified"
	}
	return "zkevm-virtual"
}

func (z *ZkEvmBatches) IncludedBlockNumber(ctx context.Context) (uint64, error) {
	method := "zkevm_virtualBatchNumber"
	if z.verified {
		method = "zkevm_verifiedBatchNumber"
	}

	var batchNumber hexutil.Uint64
	if err := z.client.CallContext(ctx, &batchNumber, method); err != nil {
		return 0, err
	}
	if uint64(batchNumber) <= zkEvmBatchLookback {
		return 0, ErrNotYetAvailable
	}

	var batch *zkEvmBatch
	safeBatch := uint64(batchNumber) - zkEvmBatchLookback
	if err := z.client.CallContext(ctx, &batch, "zkevm_getBatchByNumber", hexutil.Uint64(safeBatch)); err != nil {
		return 0, err
	}
	if batch == nil || len(batch.Blocks) == 0 {
		return 0, ErrNotYetAvailable
	}

	var header struct {
		Number hexutil.Uint64 `json:"number"`
	}
	last := batch.Blocks[len(batch.Blocks)-1]
	if err := z.client.CallContext(ctx, &header, "eth_getBlockByHash", last, false); err != nil {
		return 0, err
	}
	if header.Number == 0 {
		return 0, fmt.Errorf("block %s of batch %d not found", last.Hex(), safeBatch)
	}

	return uint64(header.Number), nil
}

// IsNotYetAvailable reports whether err means "retry on the next poll".
func IsNotYetAvailable(err error) bool {
	return errors.Is(err, ErrNotYetAvailable)
}
