package bridge

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/finality"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/txmanager"
)

// ConfigurationError reports a chain that cannot be built from the configuration.
type ConfigurationError struct {
	ChainID uint64
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("chain %d: %s", e.ChainID, e.Reason)
}

type Client interface {
	finality.BlockClient
	finality.RPCCaller
}

type TxSubmitter interface {
	Submit(ctx context.Context, req txmanager.Request) (*db.InFlightTransaction, error)
	LatestByMeta(ctx context.Context, meta string) (*db.InFlightTransaction, bool, error)
}

// Relayer delivers attested messages on a destination chain.
type Relayer interface {
	Relay(ctx context.Context, msg *db.Message, attestation []byte) (*db.InFlightTransaction, error)
	// RelayStatus returns the newest relay transaction submitted for msg.
	RelayStatus(ctx context.Context, msg *db.Message) (*db.InFlightTransaction, bool, error)
}

type ChainBridge struct {
	Chain              Chain
	Finality           finality.Strategy
	Relayer            Relayer
	MessageTransmitter common.Address
}

type Deps struct {
	Network            string
	Client             Client
	Finality           config.FinalityConfig
	Rollup             finality.RPCCaller
	TxManager          TxSubmitter
	MessageTransmitter common.Address
}

// New builds the bridge of chainID. Unknown chains and invalid finality settings
// return a *ConfigurationError.
func New(chainID uint64, deps Deps) (*ChainBridge, error) {
	chain, ok := ChainByID(chainID)
	if !ok {
		return nil, &ConfigurationError{ChainID: chainID, Reason: "unsupported chain"}
	}
	if chain.Testnet != (deps.Network == config.NetworkTestnet) {
		return nil, &ConfigurationError{ChainID: chainID, Reason: fmt.Sprintf("%s is not a %s chain", chain.Name, deps.Network)}
	}

	strategy, err := NewStrategy(chain, deps.Finality, deps.Client, deps.Rollup)
	if err != nil {
		return nil, err
	}

	bridge := &ChainBridge{
		Chain:              chain,
		Finality:           strategy,
		MessageTransmitter: deps.MessageTransmitter,
	}
	if deps.TxManager != nil {
		bridge.Relayer = NewCCTPRelayer(deps.MessageTransmitter, deps.TxManager)
	}

	return bridge, nil
}

// NewStrategy builds the finality strategy of chain, applying a configured override when set.
func NewStrategy(chain Chain, override config.FinalityConfig, client Client, rollup finality.RPCCaller) (finality.Strategy, error) {
	settings := chain.Finality
	if override.Policy != "" {
		settings = FinalityDefaults{
			Policy:          finality.Policy(override.Policy),
			Confirmations:   override.Confirmations,
			Tag:             override.Tag,
			InclusionSource: override.InclusionSource,
		}
	}

	switch settings.Policy {
	case finality.PolicyFixed:
		return finality.NewFixedConfirmation(client, settings.Confirmations), nil
	case finality.PolicyTag:
		strategy, err := finality.NewNativeTag(client, settings.Tag)
		if err != nil {
			return nil, &ConfigurationError{ChainID: chain.ID, Reason: err.Error()}
		}
		return strategy, nil
	case finality.PolicyInclusion:
		// the finalized tag selects finalized_l2 / verified batches instead of safe_l2 / virtual batches
		var finalized bool
		switch settings.Tag {
		case "", "safe":
		case "finalized":
			finalized = true
		default:
			return nil, &ConfigurationError{ChainID: chain.ID, Reason: fmt.Sprintf("unsupported inclusion tag %q", settings.Tag)}
		}

		switch settings.InclusionSource {
		case finality.InclusionSourceOpStack:
			if rollup == nil {
				return nil, &ConfigurationError{ChainID: chain.ID, Reason: "op-stack inclusion requires rollupRpcUrl"}
			}
			return finality.NewInclusion(client, finality.NewOpStackSyncStatus(rollup, finalized)), nil
		case finality.InclusionSourceZkEvm:
			return finality.NewInclusion(client, finality.NewZkEvmBatches(client, finalized)), nil
		default:
			return nil, &ConfigurationError{ChainID: chain.ID, Reason: fmt.Sprintf("unknown inclusion source %q", settings.InclusionSource)}
		}
	default:
		return nil, &ConfigurationError{ChainID: chain.ID, Reason: fmt.Sprintf("unknown finality policy %q", settings.Policy)}
	}
}

// Set routes relay requests to the bridge of each message's destination chain.
type Set struct {
	bridges map[uint64]*ChainBridge
}

func NewSet(bridges ...*ChainBridge) *Set {
	set := &Set{bridges: make(map[uint64]*ChainBridge, len(bridges))}
	for _, bridge := range bridges {
		set.bridges[bridge.Chain.ID] = bridge
	}
	return set
}

func (s *Set) Get(chainID uint64) (*ChainBridge, bool) {
	bridge, ok := s.bridges[chainID]
	return bridge, ok
}

func (s *Set) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(s.bridges))
	for id := range s.bridges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Set) relayer(chainID uint64) (Relayer, error) {
	bridge, ok := s.bridges[chainID]
	if !ok || bridge.Relayer == nil {
		return nil, &ConfigurationError{ChainID: chainID, Reason: "no relayer configured"}
	}
	return bridge.Relayer, nil
}

func (s *Set) Relay(ctx context.Context, msg *db.Message, attestation []byte) (*db.InFlightTransaction, error) {
	relayer, err := s.relayer(msg.DestChainID)
	if err != nil {
		return nil, err
	}
	return relayer.Relay(ctx, msg, attestation)
}

func (s *Set) RelayStatus(ctx context.Context, msg *db.Message) (*db.InFlightTransaction, bool, error) {
	relayer, err := s.relayer(msg.DestChainID)
	if err != nil {
		return nil, false, err
	}
	return relayer.RelayStatus(ctx, msg)
}

// CCTPRelayer calls receiveMessage on the destination MessageTransmitter.
type CCTPRelayer struct {
	transmitter common.Address
	txManager   TxSubmitter
}

func NewCCTPRelayer(transmitter common.Address, txManager TxSubmitter) *CCTPRelayer {
	return &CCTPRelayer{transmitter: transmitter, txManager: txManager}
}

func (r *CCTPRelayer) Relay(ctx context.Context, msg *db.Message, attestation []byte) (*db.InFlightTransaction, error) {
	data, err := MessageTransmitterABI.Pack("receiveMessage", []byte(msg.Payload), attestation)
	if err != nil {
		return nil, err
	}

	return r.txManager.Submit(ctx, txmanager.Request{
		To:   r.transmitter,
		Data: data,
		Meta: RelayMeta(msg.MessageHash),
	})
}

func (r *CCTPRelayer) RelayStatus(ctx context.Context, msg *db.Message) (*db.InFlightTransaction, bool, error) {
	return r.txManager.LatestByMeta(ctx, RelayMeta(msg.MessageHash))
}

// RelayMeta is the transaction meta linking a relay to its message.
func RelayMeta(messageHash common.Hash) string {
	return messageHash.Hex()
}
