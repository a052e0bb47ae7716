package finality

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrNotYetAvailable is returned when a chain cannot name a final block yet.
// Callers retry on their next poll.
var ErrNotYetAvailable = errors.New("finality: safe block not yet available")

type Policy string

const (
	PolicyFixed     Policy = "fixed"
	PolicyTag       Policy = "tag"
	PolicyInclusion Policy = "inclusion"
)

// Strategy computes the chain tip and the block considered final on one chain.
type Strategy interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CustomBlockNumber(ctx context.Context) (uint64, error)
	// IsCustomBlockNumberImplemented is false when CustomBlockNumber is only tip arithmetic.
	IsCustomBlockNumberImplemented() bool
	Policy() Policy
}

type BlockClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// FixedConfirmation treats tip - confirmations as final.
type FixedConfirmation struct {
	client        BlockClient
	confirmations uint64
}

func NewFixedConfirmation(client BlockClient, confirmations uint64) *FixedConfirmation {
	return &FixedConfirmation{client: client, confirmations: confirmations}
}

func (f *FixedConfirmation) BlockNumber(ctx context.Context) (uint64, error) {
	return f.client.BlockNumber(ctx)
}

func (f *FixedConfirmation) CustomBlockNumber(ctx context.Context) (uint64, error) {
	tip, err := f.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if tip < f.confirmations {
		return 0, ErrNotYetAvailable
	}

	return tip - f.confirmations, nil
}

func (f *FixedConfirmation) IsCustomBlockNumberImplemented() bool {
	return false
}

func (f *FixedConfirmation) Policy() Policy {
	return PolicyFixed
}

func (f *FixedConfirmation) Confirmations() uint64 {
	return f.confirmations
}

// NativeTag asks the node for its "safe" or "finalized" block.
type NativeTag struct {
	client BlockClient
	tag    rpc.BlockNumber
}

func NewNativeTag(client BlockClient, tag string) (*NativeTag, error) {
	var number rpc.BlockNumber
	switch tag {
	case "safe":
		number = rpc.SafeBlockNumber
	case "finalized":
		number = rpc.FinalizedBlockNumber
	default:
		return nil, fmt.Errorf("unsupported finality tag %q", tag)
	}

	return &NativeTag{client: client, tag: number}, nil
}

func (n *NativeTag) BlockNumber(ctx context.Context) (uint64, error) {
	return n.client.BlockNumber(ctx)
}

func (n *NativeTag) CustomBlockNumber(ctx context.Context) (uint64, error) {
	header, err := n.client.HeaderByNumber(ctx, big.NewInt(n.tag.Int64()))
	if err != nil {
		return 0, err
	}
	if header == nil || header.Number == nil {
		return 0, ErrNotYetAvailable
	}

	return header.Number.Uint64(), nil
}

func (n *NativeTag) IsCustomBlockNumberImplemented() bool {
	return true
}

func (n *NativeTag) Policy() Policy {
	return PolicyTag
}
