package db

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type BaseTable struct {
	Id          uint64    `gorm:"primaryKey"`
	UpdatedTime time.Time `gorm:"autoUpdateTime"`
	CreatedTime time.Time `gorm:"autoCreateTime"`
}

// KVTable backs MysqlDB.
type KVTable struct {
	Name  string `gorm:"size:255;uniqueIndex"`
	Value []byte `gorm:"type:longblob"`

	BaseTable
}

func (KVTable) TableName() string {
	return "relayer_kv"
}

type MessageState string

const (
	StateSent             MessageState = "sent"
	StateAwaitingFinality MessageState = "awaiting_finality"
	StateProofAvailable   MessageState = "proof_available"
	StateRelayable        MessageState = "relayable"
	StateRelayed          MessageState = "relayed"
)

type Message struct {
	MessageHash   common.Hash   `json:"messageHash"`
	SourceChainID uint64        `json:"sourceChainId"`
	DestChainID   uint64        `json:"destinationChainId"`
	Nonce         uint64        `json:"nonce"`
	Payload       hexutil.Bytes `json:"payload"`

	SentTxHash    common.Hash `json:"sentTxHash"`
	SentBlock     uint64      `json:"sentBlock"`
	SentTimestamp uint64      `json:"sentTimestamp"`

	State MessageState `json:"state"`

	RelayTxHash    common.Hash `json:"relayTxHash"`
	RelayTimestamp uint64      `json:"relayTimestamp"`

	CreatedTime time.Time `json:"createdTime"`
	UpdatedTime time.Time `json:"updatedTime"`
}

type FinalityRecord struct {
	ChainID   uint64    `json:"chainId"`
	Tip       uint64    `json:"tip"`
	SafeBlock uint64    `json:"safeBlock"`
	PolledAt  time.Time `json:"polledAt"`
}

type SyncMarker struct {
	ChainID         uint64    `json:"chainId"`
	Topic           string    `json:"topic"`
	LastSyncedBlock uint64    `json:"lastSyncedBlock"`
	UpdatedTime     time.Time `json:"updatedTime"`
}

// StoredEvent is a decoded log. Key is the content derived lookup key, Payload the decoded body.
type StoredEvent struct {
	ChainID        uint64         `json:"chainId"`
	Topic          common.Hash    `json:"topic"`
	Address        common.Address `json:"address"`
	BlockNumber    uint64         `json:"blockNumber"`
	BlockHash      common.Hash    `json:"blockHash"`
	BlockTimestamp uint64         `json:"blockTimestamp"`
	TxHash         common.Hash    `json:"txHash"`
	LogIndex       uint           `json:"logIndex"`
	Key            string         `json:"key"`
	Payload        []byte         `json:"payload"`
}

const (
	AttestationPending  = "pending"
	AttestationComplete = "complete"
)

type AttestationRecord struct {
	MessageHash common.Hash   `json:"messageHash"`
	Status      string        `json:"status"`
	Attestation hexutil.Bytes `json:"attestation,omitempty"`
	FetchedAt   time.Time     `json:"fetchedAt"`
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"

	// TxStatusDropped marks a record whose nonce was consumed by a transaction it never broadcast.
	TxStatusDropped TxStatus = "dropped"
)

type InFlightTransaction struct {
	ID      string         `json:"id"`
	ChainID uint64         `json:"chainId"`
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
	Meta    string         `json:"meta"`

	To       common.Address `json:"to"`
	Data     hexutil.Bytes  `json:"data"`
	Value    *big.Int       `json:"value"`
	GasLimit uint64         `json:"gasLimit"`

	// GasPrice is set for legacy transactions, GasFeeCap/GasTipCap for dynamic fee ones.
	GasPrice         *big.Int `json:"gasPrice,omitempty"`
	GasFeeCap        *big.Int `json:"gasFeeCap,omitempty"`
	GasTipCap        *big.Int `json:"gasTipCap,omitempty"`
	InitialGasPrice  *big.Int `json:"initialGasPrice,omitempty"`
	InitialGasFeeCap *big.Int `json:"initialGasFeeCap,omitempty"`
	InitialGasTipCap *big.Int `json:"initialGasTipCap,omitempty"`

	TxHash           common.Hash   `json:"txHash"`
	PreviousTxHashes []common.Hash `json:"previousTxHashes,omitempty"`
	RawTx            hexutil.Bytes `json:"rawTx"`

	Sent        bool      `json:"sent"`
	CreatedTime time.Time `json:"createdTime"`
	SubmittedAt time.Time `json:"submittedAt"`
	BoostCount  int       `json:"boostCount"`
	Stuck       bool      `json:"stuck"`

	Status                  TxStatus    `json:"status"`
	ConfirmedTxHash         common.Hash `json:"confirmedTxHash"`
	ConfirmedBlock          uint64      `json:"confirmedBlock"`
	ConfirmedBlockTimestamp uint64      `json:"confirmedBlockTimestamp"`
	// ConfirmedAt is the local time the receipt was seen.
	ConfirmedAt time.Time `json:"confirmedAt"`
}

func (tx *InFlightTransaction) IsLegacy() bool {
	return tx.GasPrice != nil
}

// Hashes returns every hash this nonce was ever broadcast with, newest first.
func (tx *InFlightTransaction) Hashes() []common.Hash {
	hashes := []common.Hash{tx.TxHash}
	for i := len(tx.PreviousTxHashes) - 1; i >= 0; i-- {
		hashes = append(hashes, tx.PreviousTxHashes[i])
	}
	return hashes
}
