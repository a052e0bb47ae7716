package txrelayer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/bridge"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/indexer"
)

func testConfig(t *testing.T, chainIDs ...uint64) *config.Config {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := &config.Config{
		Database: config.Database{Backend: "leveldb", Dir: t.TempDir()},
		Signer:   config.SignerConfig{PrivateKey: hexutil.Encode(crypto.FromECDSA(key))},
	}
	for _, id := range chainIDs {
		cfg.Chains = append(cfg.Chains, config.ChainConfig{
			ChainID:                   id,
			RpcUrl:                    "http://127.0.0.1:1",
			MessageTransmitterAddress: "0x0a992d191deec32afe36203ad87d7d289a738f81",
			StartBlockHeight:          1,
		})
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestDB(t *testing.T) db.IDB {
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestNewBonder(t *testing.T) {
	cfg := testConfig(t, 1, 42161)
	b, err := NewBonder(context.Background(), cfg, newTestDB(t), nil, zap.NewNop())
	require.NoError(t, err)
	defer b.closeClients()

	require.Len(t, b.chains, 2)
	for _, c := range b.chains {
		require.NotNil(t, c.bridge.Relayer)
		require.NotNil(t, c.indexer)
		require.Equal(t, c.conf.ChainID, c.manager.ChainID())
	}
	require.Equal(t, b.chains[0].manager.Address(), b.chains[1].manager.Address())

	require.Error(t, b.WaitForShutdown())
}

func TestNewBonderRejectsUnsupportedChain(t *testing.T) {
	cfg := testConfig(t, 1, 999)
	_, err := NewBonder(context.Background(), cfg, newTestDB(t), nil, zap.NewNop())

	var configErr *bridge.ConfigurationError
	require.True(t, errors.As(err, &configErr))
	require.Equal(t, uint64(999), configErr.ChainID)
}

func TestNewBonderRejectsTestnetChainOnMainnet(t *testing.T) {
	cfg := testConfig(t, 11155111)
	_, err := NewBonder(context.Background(), cfg, newTestDB(t), nil, zap.NewNop())
	require.Error(t, err)
}

func TestNewBonderRejectsInvalidKey(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.Signer.PrivateKey = "0x1234"
	_, err := NewBonder(context.Background(), cfg, newTestDB(t), nil, zap.NewNop())
	require.ErrorContains(t, err, "invalid signer private key")
}

func TestSentNonceGaps(t *testing.T) {
	database := newTestDB(t)
	var events []*db.StoredEvent
	for i, nonce := range []uint64{9, 5, 6} {
		raw := make([]byte, 116)
		binary.BigEndian.PutUint64(raw[12:], nonce)
		events = append(events, &db.StoredEvent{
			ChainID:     1,
			BlockNumber: uint64(10 + i),
			TxHash:      common.BigToHash(common.Big1),
			Key:         crypto.Keccak256Hash(raw).Hex(),
			Payload:     raw,
		})
	}
	_, err := db.NewEventRepository(database).StoreEvents(1, bridge.MessageSentTopic, events, 20)
	require.NoError(t, err)

	source := indexer.New(1, nil, database, indexer.Config{}, zap.NewNop(), nil)
	gaps, err := SentNonceGaps(source)
	require.NoError(t, err)
	require.Equal(t, []uint64{7, 8}, gaps)
}
