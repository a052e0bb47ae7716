package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/alert"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/bridge"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/evmclient"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/txmanager"
)

// EventSource is the indexed log store of one chain.
type EventSource interface {
	HasEvent(topic common.Hash, lookup string) (bool, error)
	GetEvent(topic common.Hash, lookup string) (*db.StoredEvent, bool, error)
	Events(topic common.Hash, fn func(*db.StoredEvent) (bool, error)) error
}

type FinalityReader interface {
	SafeBlockNumber(ctx context.Context, chainID uint64) (uint64, bool, error)
}

type AttestationStore interface {
	Get(ctx context.Context, hash common.Hash) ([]byte, bool, error)
	Cached(hash common.Hash) ([]byte, bool, error)
	Invalidate(hash common.Hash) error
}

type Deps struct {
	Database     db.IDB
	Events       map[uint64]EventSource
	Finality     FinalityReader
	Attestations AttestationStore
	Relayer      bridge.Relayer
	Alerts       alert.Sink
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	Testnet      bool
}

// MessageStateMachine moves messages from Sent to Relayed. Every step is persisted before the next
// one is tried, and the preconditions only read stores, so a restart resumes where it stopped.
type MessageStateMachine struct {
	messages     *db.MessageRepository
	events       map[uint64]EventSource
	finality     FinalityReader
	attestations AttestationStore
	relayer      bridge.Relayer
	alerts       alert.Sink
	metrics      *metrics.Metrics
	logger       *zap.Logger
	testnet      bool

	// relay transactions whose revert has been reported, by message
	mu             sync.Mutex
	revertsAlerted map[common.Hash]string
}

func New(deps Deps) *MessageStateMachine {
	return &MessageStateMachine{
		messages:       db.NewMessageRepository(deps.Database),
		events:         deps.Events,
		finality:       deps.Finality,
		attestations:   deps.Attestations,
		relayer:        deps.Relayer,
		alerts:         deps.Alerts,
		metrics:        deps.Metrics,
		logger:         deps.Logger.Named("statemachine"),
		testnet:        deps.Testnet,
		revertsAlerted: make(map[common.Hash]string),
	}
}

// OnMessageSent creates the message announced by a newly indexed MessageSent event.
func (m *MessageStateMachine) OnMessageSent(_ context.Context, event *db.StoredEvent) error {
	msg, ok := m.messageFromEvent(event)
	if !ok {
		return nil
	}

	created, err := m.messages.CreateIfNotExists(msg)
	if err != nil {
		return err
	}
	if created {
		m.metrics.IncTransition(string(msg.State))
		m.logger.Info("message sent",
			zap.Stringer("messageHash", msg.MessageHash),
			zap.Uint64("sourceChain", msg.SourceChainID),
			zap.Uint64("destinationChain", msg.DestChainID),
			zap.Uint64("nonce", msg.Nonce),
			zap.Uint64("block", msg.SentBlock))
	}
	return nil
}

func (m *MessageStateMachine) messageFromEvent(event *db.StoredEvent) (*db.Message, bool) {
	msg, err := bridge.MessageFromEvent(m.testnet, event)
	if err != nil {
		m.logger.Warn("ignoring MessageSent event", zap.Uint64("chain", event.ChainID),
			zap.Stringer("txHash", event.TxHash), zap.Error(err))
		return nil, false
	}
	if _, ok := m.events[msg.DestChainID]; !ok {
		m.logger.Debug("ignoring message to unconfigured chain", zap.Stringer("messageHash", msg.MessageHash),
			zap.Uint64("destinationChain", msg.DestChainID))
		return nil, false
	}
	return msg, true
}

// Poll advances every unfinished message as far as its preconditions allow.
func (m *MessageStateMachine) Poll(ctx context.Context) error {
	return m.advanceAll(ctx, true)
}

// Recover creates messages for stored send events that have none, then advances every
// unfinished message using stored data only. No attestation is fetched and nothing is submitted.
func (m *MessageStateMachine) Recover(ctx context.Context) error {
	var recovered int
	for chainID, source := range m.events {
		err := source.Events(bridge.MessageSentTopic, func(event *db.StoredEvent) (bool, error) {
			msg, ok := m.messageFromEvent(event)
			if !ok {
				return true, nil
			}
			created, err := m.messages.CreateIfNotExists(msg)
			if created {
				recovered++
			}
			return err == nil, err
		})
		if err != nil {
			return fmt.Errorf("recover messages of chain %d: %w", chainID, err)
		}
	}
	if recovered > 0 {
		m.logger.Info("recovered messages from stored events", zap.Int("count", recovered))
	}

	return m.advanceAll(ctx, false)
}

// advanceAll visits every unfinished message once. The set is loaded up front so a message
// moved forward in this cycle is not walked again from its new state.
func (m *MessageStateMachine) advanceAll(ctx context.Context, live bool) error {
	messages, err := Unrelayed(m.messages)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.advance(ctx, msg, live); err != nil {
			if evmclient.IsRetryable(err) {
				m.logger.Warn("failed to advance message", zap.Stringer("messageHash", msg.MessageHash),
					zap.String("state", string(msg.State)), zap.Error(err))
				continue
			}
			return fmt.Errorf("message %s in state %s: %w", msg.MessageHash.Hex(), msg.State, err)
		}
	}
	return nil
}

// advance walks msg forward one persisted step at a time until a precondition does not hold.
func (m *MessageStateMachine) advance(ctx context.Context, msg *db.Message, live bool) error {
	for {
		next, ok, err := MessageStates.Next(msg.State)
		if err != nil || !ok {
			return err
		}

		ready, err := m.ready(ctx, msg, live)
		if err != nil || !ready {
			return err
		}

		prev := msg.State
		msg.State = next
		if err := m.messages.Update(msg, prev); err != nil {
			return err
		}
		m.metrics.IncTransition(string(next))
		m.logger.Info("message state changed", zap.Stringer("messageHash", msg.MessageHash),
			zap.String("from", string(prev)), zap.String("to", string(next)))
	}
}

// ready reports whether msg may leave its current state.
func (m *MessageStateMachine) ready(ctx context.Context, msg *db.Message, live bool) (bool, error) {
	switch msg.State {
	case db.StateSent:
		source, ok := m.events[msg.SourceChainID]
		if !ok {
			return false, nil
		}
		return source.HasEvent(bridge.MessageSentTopic, msg.MessageHash.Hex())

	case db.StateAwaitingFinality:
		safe, ok, err := m.finality.SafeBlockNumber(ctx, msg.SourceChainID)
		if err != nil || !ok {
			return false, err
		}
		return safe >= msg.SentBlock, nil

	case db.StateProofAvailable:
		if !live {
			_, ok, err := m.attestations.Cached(msg.MessageHash)
			return ok, err
		}
		_, ok, err := m.attestations.Get(ctx, msg.MessageHash)
		return ok, err

	case db.StateRelayable:
		return m.relayed(ctx, msg, live)

	default:
		return false, fmt.Errorf("no precondition for state %s", msg.State)
	}
}

// relayed reports whether msg has been delivered on its destination chain, submitting a relay
// transaction through the bridge when none is in flight.
func (m *MessageStateMachine) relayed(ctx context.Context, msg *db.Message, live bool) (bool, error) {
	logger := m.logger.With(zap.Stringer("messageHash", msg.MessageHash), zap.Uint64("destinationChain", msg.DestChainID))

	tx, ok, err := m.relayer.RelayStatus(ctx, msg)
	if err != nil {
		return false, err
	}
	if ok {
		switch tx.Status {
		case db.TxStatusPending:
			return false, nil
		case db.TxStatusConfirmed:
			return true, m.markRelayed(msg, tx.ConfirmedTxHash, relayTimestamp(tx))
		case db.TxStatusReverted:
			if delivered, err := m.deliveredElsewhere(msg); err != nil || delivered {
				return delivered, err
			}
			if !live {
				return false, nil
			}
			if m.alertRevert(msg, tx) {
				logger.Warn("relay transaction reverted, refreshing attestation", zap.Stringer("txHash", tx.ConfirmedTxHash))
				return false, m.attestations.Invalidate(msg.MessageHash)
			}
		}
	}

	if delivered, err := m.deliveredElsewhere(msg); err != nil || delivered {
		return delivered, err
	}
	if !live {
		return false, nil
	}

	attestation, ok, err := m.attestations.Get(ctx, msg.MessageHash)
	if err != nil || !ok {
		return false, err
	}

	tx, err = m.relayer.Relay(ctx, msg, attestation)
	switch {
	case err == nil:
		logger.Info("relay submitted", zap.Uint64("nonce", tx.Nonce), zap.Stringer("txHash", tx.TxHash))
	case txmanager.IsExecutionRevertError(err), errors.Is(err, txmanager.ErrNonceTooLow):
		logger.Warn("relay not submitted, retrying next cycle", zap.Error(err))
	default:
		return false, err
	}
	return false, nil
}

// alertRevert reports a reverted relay once per transaction and tells whether it was new.
func (m *MessageStateMachine) alertRevert(msg *db.Message, tx *db.InFlightTransaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.revertsAlerted[msg.MessageHash] == tx.ID {
		return false
	}
	m.revertsAlerted[msg.MessageHash] = tx.ID
	if m.alerts != nil {
		m.alerts.RelayReverted(msg, tx)
	}
	return true
}

// deliveredElsewhere looks for the MessageReceived event of msg on its destination chain and
// records it as the relay when found.
func (m *MessageStateMachine) deliveredElsewhere(msg *db.Message) (bool, error) {
	dest, ok := m.events[msg.DestChainID]
	if !ok {
		return false, nil
	}
	decoded, err := bridge.DecodeMessage(msg.Payload)
	if err != nil {
		return false, err
	}

	event, ok, err := dest.GetEvent(bridge.MessageReceivedTopic, bridge.ReceivedKey(decoded.SourceDomain, decoded.Nonce))
	if err != nil || !ok {
		return false, err
	}

	m.logger.Info("message delivered by another relayer", zap.Stringer("messageHash", msg.MessageHash),
		zap.Stringer("txHash", event.TxHash))
	return true, m.markRelayed(msg, event.TxHash, event.BlockTimestamp)
}

func (m *MessageStateMachine) markRelayed(msg *db.Message, txHash common.Hash, timestamp uint64) error {
	msg.RelayTxHash = txHash
	msg.RelayTimestamp = timestamp
	return m.messages.MarkRelayed(txHash)
}

// Unrelayed returns the messages that have not reached Relayed, earliest states first.
func Unrelayed(repo *db.MessageRepository) ([]*db.Message, error) {
	var messages []*db.Message
	for _, state := range MessageStates[:len(MessageStates)-1] {
		inState, err := repo.InState(state)
		if err != nil {
			return nil, err
		}
		messages = append(messages, inState...)
	}
	return messages, nil
}

// relayTimestamp is the timestamp of the block that mined tx. Records confirmed before the block
// time was stored fall back to the local confirmation time.
func relayTimestamp(tx *db.InFlightTransaction) uint64 {
	if tx.ConfirmedBlockTimestamp != 0 {
		return tx.ConfirmedBlockTimestamp
	}
	return uint64(tx.ConfirmedAt.Unix())
}
