package txrelayer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/alert"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/attestation"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/bridge"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/evmclient"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/finality"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/indexer"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/poller"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/statemachine"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/txmanager"
)

// chain is everything the bonder runs for one configured chain.
type chain struct {
	conf    config.ChainConfig
	client  *evmclient.Client
	rollup  *evmclient.Client
	bridge  *bridge.ChainBridge
	manager *txmanager.Manager
	indexer *indexer.Indexer
}

// Bonder relays CCTP messages between the configured chains.
type Bonder struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	alerts  alert.Sink

	chains  []*chain
	tracker *finality.Tracker
	machine *statemachine.MessageStateMachine

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

// NewBonder dials every configured chain and wires its finality strategy, indexer and
// transaction manager into one message state machine. The database stays owned by the caller.
func NewBonder(ctx context.Context, cfg *config.Config, database db.IDB, m *metrics.Metrics, parentLogger *zap.Logger) (*Bonder, error) {
	logger := parentLogger.Named("bonder")
	alerts := alert.NewLogSink(parentLogger, m)
	tracker := finality.NewTracker(db.NewFinalityRepository(database), parentLogger, m)
	testnet := cfg.Network == config.NetworkTestnet

	b := &Bonder{
		cfg:     cfg,
		logger:  logger.Sugar(),
		metrics: m,
		alerts:  alerts,
		tracker: tracker,
		done:    make(chan struct{}),
	}

	bridges := make([]*bridge.ChainBridge, 0, len(cfg.Chains))
	events := make(map[uint64]statemachine.EventSource, len(cfg.Chains))
	for _, conf := range cfg.Chains {
		c, err := b.newChain(ctx, conf, database, parentLogger)
		if err != nil {
			b.closeClients()
			return nil, err
		}
		b.chains = append(b.chains, c)
		bridges = append(bridges, c.bridge)
		events[conf.ChainID] = c.indexer
		tracker.Register(conf.ChainID, c.bridge.Finality)
	}

	store, err := attestation.NewStore(attestation.NewClient(cfg.Attestation, parentLogger, m), database,
		cfg.Attestation.PendingRecheck, parentLogger)
	if err != nil {
		b.closeClients()
		return nil, err
	}

	b.machine = statemachine.New(statemachine.Deps{
		Database:     database,
		Events:       events,
		Finality:     tracker,
		Attestations: store,
		Relayer:      bridge.NewSet(bridges...),
		Alerts:       alerts,
		Metrics:      m,
		Logger:       parentLogger,
		Testnet:      testnet,
	})
	for _, c := range b.chains {
		c.indexer.Subscribe(bridge.MessageSentTopic, b.machine.OnMessageSent)
	}

	return b, nil
}

func (b *Bonder) newChain(ctx context.Context, conf config.ChainConfig, database db.IDB, logger *zap.Logger) (*chain, error) {
	client, err := evmclient.New(ctx, conf.ChainID, conf.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("chain %d: dial rpc: %w", conf.ChainID, err)
	}
	c := &chain{conf: conf, client: client}

	var rollup finality.RPCCaller
	if conf.Finality.RollupRpcUrl != "" {
		c.rollup, err = evmclient.New(ctx, conf.ChainID, conf.Finality.RollupRpcUrl)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("chain %d: dial rollup rpc: %w", conf.ChainID, err)
		}
		rollup = c.rollup
	}

	signer, err := txmanager.NewPrivateKeySigner(b.cfg.Signer.PrivateKey, conf.ChainID)
	if err != nil {
		c.close()
		return nil, err
	}
	c.manager = txmanager.New(conf.ChainID, client, signer, database, txmanager.NewConfig(b.cfg.TxManager),
		b.alerts, b.metrics, logger)

	transmitter := common.HexToAddress(conf.MessageTransmitterAddress)
	c.bridge, err = bridge.New(conf.ChainID, bridge.Deps{
		Network:            b.cfg.Network,
		Client:             client,
		Finality:           conf.Finality,
		Rollup:             rollup,
		TxManager:          c.manager,
		MessageTransmitter: transmitter,
	})
	if err != nil {
		c.close()
		return nil, err
	}

	c.indexer = indexer.New(conf.ChainID, client, database, indexer.Config{
		StartBlock:    conf.StartBlockHeight,
		MaxBlockRange: conf.MaxBlockRange,
	}, logger, b.metrics)
	c.indexer.AddFilter(indexer.Filter{
		Name:    "MessageSent",
		Topic:   bridge.MessageSentTopic,
		Address: transmitter,
		Decode:  bridge.DecodeMessageSent,
	})
	c.indexer.AddFilter(indexer.Filter{
		Name:    "MessageReceived",
		Topic:   bridge.MessageReceivedTopic,
		Address: transmitter,
		Decode:  bridge.DecodeMessageReceived,
	})

	b.logger.Infof("chain %s (%d) ready: finality %s, relayer %s, start block %d",
		c.bridge.Chain.Name, conf.ChainID, c.bridge.Finality.Policy(), signer.Address().Hex(), conf.StartBlockHeight)
	return c, nil
}

func (c *chain) close() {
	c.client.Close()
	if c.rollup != nil {
		c.rollup.Close()
	}
}

func (b *Bonder) closeClients() {
	for _, c := range b.chains {
		c.close()
	}
}

func (b *Bonder) Name() string {
	return "bonder"
}

// Start recovers message state from the store, initializes the nonce counters and starts
// every poller. It returns once the pollers are running.
func (b *Bonder) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if err := b.machine.Recover(ctx); err != nil {
		cancel()
		return fmt.Errorf("recover messages: %w", err)
	}
	for _, c := range b.chains {
		if err := c.manager.Init(ctx); err != nil {
			cancel()
			return fmt.Errorf("chain %d: init transaction manager: %w", c.conf.ChainID, err)
		}
	}

	supervisor := poller.NewSupervisor(ctx, b.logger.Desugar(), b.alerts.FatalExit)
	for _, c := range b.chains {
		c := c
		supervisor.Go(fmt.Sprintf("catch-up-%d", c.conf.ChainID), func(ctx context.Context) error {
			if err := c.indexer.CatchUp(ctx); err != nil {
				return err
			}
			b.warnNonceGaps(c)
			return nil
		})
		logger := b.logger.Desugar().With(zap.Uint64("chain", c.conf.ChainID))
		supervisor.Poll(poller.New(fmt.Sprintf("indexer-%d", c.conf.ChainID), c.conf.PollInterval, c.indexer.Poll, logger))
		supervisor.Poll(poller.New(fmt.Sprintf("finality-%d", c.conf.ChainID), c.conf.PollInterval,
			b.tracker.Poll(c.conf.ChainID), logger))
		supervisor.Poll(poller.New(fmt.Sprintf("txmanager-%d", c.conf.ChainID), b.cfg.TxManager.PollInterval,
			c.manager.Poll, logger))
	}
	supervisor.Poll(poller.New("statemachine", b.cfg.StateMachine.PollInterval, b.machine.Poll, b.logger.Desugar()))

	go func() {
		defer close(b.done)
		err := supervisor.Wait()
		b.closeClients()

		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}()

	b.logger.Infof("bonder started on %s with %d chains", b.cfg.Network, len(b.chains))
	return nil
}

func (b *Bonder) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Done is closed once every poller has returned.
func (b *Bonder) Done() <-chan struct{} {
	return b.done
}

// WaitForShutdown blocks until the pollers returned and reports the task failure that
// stopped them, if any.
func (b *Bonder) WaitForShutdown() error {
	if b.cancel == nil {
		return errors.New("bonder was not started")
	}
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// warnNonceGaps reports CCTP nonces missing between the indexed MessageSent events of c.
func (b *Bonder) warnNonceGaps(c *chain) {
	gaps, err := SentNonceGaps(c.indexer)
	if err != nil {
		b.logger.Warnf("chain %d: failed to check nonce gaps: %v", c.conf.ChainID, err)
		return
	}
	if len(gaps) > 0 {
		b.logger.Warnf("chain %d: %d CCTP nonces missing from indexed MessageSent events, first %d",
			c.conf.ChainID, len(gaps), gaps[0])
	}
}

// SentNonceGaps returns the nonces missing between the stored MessageSent events of source.
func SentNonceGaps(source statemachine.EventSource) ([]uint64, error) {
	var nonces []uint64
	err := source.Events(bridge.MessageSentTopic, func(event *db.StoredEvent) (bool, error) {
		msg, err := bridge.DecodeMessage(event.Payload)
		if err != nil {
			return true, nil
		}
		nonces = append(nonces, msg.Nonce)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return indexer.NonceGaps(nonces), nil
}
