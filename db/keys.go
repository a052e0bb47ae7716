package db

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key spaces. Numbers are zero padded so lexical order matches numeric order.
const (
	markerPrefix       = "marker:"
	eventPrefix        = "event:"
	eventRefPrefix     = "eventref:"
	messagePrefix      = "message:"
	messageStatePrefix = "msgstate:"
	attestationPrefix  = "attestation:"
	relayedPrefix      = "relayed:"
	inflightPrefix     = "inflight:"
	noncePrefix        = "nonce:"
	txMetaPrefix       = "txmeta:"
	finalityPrefix     = "finality:"
)

func markerKey(chainID uint64, topic common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", markerPrefix, chainID, topic.Hex()))
}

func eventTopicPrefix(chainID uint64, topic common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", eventPrefix, chainID, topic.Hex()))
}

func eventKey(e *StoredEvent) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s:%06d", eventTopicPrefix(e.ChainID, e.Topic), e.BlockNumber, e.TxHash.Hex(), e.LogIndex))
}

func eventRefKey(chainID uint64, topic common.Hash, lookup string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%s", eventRefPrefix, chainID, topic.Hex(), lookup))
}

func messageKey(hash common.Hash) []byte {
	return []byte(messagePrefix + hash.Hex())
}

func messageStateIndexPrefix(state MessageState) []byte {
	return []byte(fmt.Sprintf("%s%s:", messageStatePrefix, state))
}

func messageStateKey(state MessageState, hash common.Hash) []byte {
	return append(messageStateIndexPrefix(state), []byte(hash.Hex())...)
}

func attestationKey(hash common.Hash) []byte {
	return []byte(attestationPrefix + hash.Hex())
}

func relayedKey(txHash common.Hash) []byte {
	return []byte(relayedPrefix + txHash.Hex())
}

func inflightAccountPrefix(chainID uint64, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", inflightPrefix, chainID, account.Hex()))
}

func inflightKey(chainID uint64, account common.Address, nonce uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", inflightAccountPrefix(chainID, account), nonce))
}

func txMetaKey(chainID uint64, account common.Address, meta string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%s", txMetaPrefix, chainID, account.Hex(), meta))
}

func nonceKey(chainID uint64, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", noncePrefix, chainID, account.Hex()))
}

func finalityKey(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", finalityPrefix, chainID))
}
