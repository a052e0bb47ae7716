package evmclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	BlockHeaderCacheSize = 256
)

// Client is the chain RPC boundary used by the finality, indexer and tx manager packages.
type Client struct {
	chainID   uint64
	ethClient *ethclient.Client
	// Supplement to ethclient
	rpcClient *rpc.Client

	blockHeaderCache *lru.Cache[uint64, *types.Header]
}

func New(ctx context.Context, chainID uint64, rpcUrl string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, err
	}

	blockHeaderCache, err := lru.New[uint64, *types.Header](BlockHeaderCacheSize)
	if err != nil {
		return nil, err
	}

	return &Client{
		chainID:          chainID,
		ethClient:        ethclient.NewClient(rpcClient),
		rpcClient:        rpcClient,
		blockHeaderCache: blockHeaderCache,
	}, nil
}

func (c *Client) ChainID() uint64 {
	return c.chainID
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the header at number, or the latest header when number is nil.
// Negative numbers select the rpc tags (rpc.SafeBlockNumber, rpc.FinalizedBlockNumber).
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// HeaderByHeight is HeaderByNumber for concrete heights, served from a cache when possible.
func (c *Client) HeaderByHeight(ctx context.Context, height uint64) (*types.Header, error) {
	if header, ok := c.blockHeaderCache.Get(height); ok {
		return header, nil
	}

	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, err
	}

	c.blockHeaderCache.Add(height, header)
	return header, nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, q)
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, hash)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ethClient.SendTransaction(ctx, tx)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.ethClient.PendingNonceAt(ctx, account)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ethClient.SuggestGasPrice(ctx)
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.ethClient.SuggestGasTipCap(ctx)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.ethClient.EstimateGas(ctx, msg)
}

// CallContext issues a raw JSON-RPC call, used for chain specific namespaces.
func (c *Client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.rpcClient.CallContext(ctx, result, method, args...)
}

func (c *Client) Close() {
	c.rpcClient.Close()
}
