package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const messageTransmitterJSON = `[
	{"anonymous":false,"inputs":[{"indexed":false,"internalType":"bytes","name":"message","type":"bytes"}],"name":"MessageSent","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"caller","type":"address"},{"indexed":false,"internalType":"uint32","name":"sourceDomain","type":"uint32"},{"indexed":true,"internalType":"uint64","name":"nonce","type":"uint64"},{"indexed":false,"internalType":"bytes32","name":"sender","type":"bytes32"},{"indexed":false,"internalType":"bytes","name":"messageBody","type":"bytes"}],"name":"MessageReceived","type":"event"},
	{"inputs":[{"internalType":"bytes","name":"message","type":"bytes"},{"internalType":"bytes","name":"attestation","type":"bytes"}],"name":"receiveMessage","outputs":[{"internalType":"bool","name":"success","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// message header layout of the CCTP MessageTransmitter
const (
	versionIndex           = 0
	sourceDomainIndex      = 4
	destinationDomainIndex = 8
	nonceIndex             = 12
	senderIndex            = 20
	recipientIndex         = 52
	destinationCallerIndex = 84
	messageBodyIndex       = 116
)

var (
	MessageTransmitterABI = mustParseABI(messageTransmitterJSON)

	MessageSentTopic     = MessageTransmitterABI.Events["MessageSent"].ID
	MessageReceivedTopic = MessageTransmitterABI.Events["MessageReceived"].ID

	ErrMalformedMessage = errors.New("malformed cctp message")
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type Message struct {
	Version           uint32
	SourceDomain      uint32
	DestinationDomain uint32
	Nonce             uint64
	Sender            common.Hash
	Recipient         common.Hash
	DestinationCaller common.Hash
	Body              []byte
	Raw               []byte
}

func DecodeMessage(raw []byte) (*Message, error) {
	if len(raw) < messageBodyIndex {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(raw))
	}

	return &Message{
		Version:           binary.BigEndian.Uint32(raw[versionIndex:sourceDomainIndex]),
		SourceDomain:      binary.BigEndian.Uint32(raw[sourceDomainIndex:destinationDomainIndex]),
		DestinationDomain: binary.BigEndian.Uint32(raw[destinationDomainIndex:nonceIndex]),
		Nonce:             binary.BigEndian.Uint64(raw[nonceIndex:senderIndex]),
		Sender:            common.BytesToHash(raw[senderIndex:recipientIndex]),
		Recipient:         common.BytesToHash(raw[recipientIndex:destinationCallerIndex]),
		DestinationCaller: common.BytesToHash(raw[destinationCallerIndex:messageBodyIndex]),
		Body:              common.CopyBytes(raw[messageBodyIndex:]),
		Raw:               common.CopyBytes(raw),
	}, nil
}

func (m *Message) Hash() common.Hash {
	return crypto.Keccak256Hash(m.Raw)
}

// ReceivedKey is the lookup key of a MessageReceived event.
func ReceivedKey(sourceDomain uint32, nonce uint64) string {
	return fmt.Sprintf("%d:%d", sourceDomain, nonce)
}

// DecodeMessageSent returns the message hash as lookup key and the raw message as payload.
func DecodeMessageSent(log types.Log) (string, []byte, error) {
	values, err := MessageTransmitterABI.Unpack("MessageSent", log.Data)
	if err != nil {
		return "", nil, err
	}
	raw, ok := values[0].([]byte)
	if !ok {
		return "", nil, fmt.Errorf("%w: unexpected MessageSent data", ErrMalformedMessage)
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		return "", nil, err
	}
	return msg.Hash().Hex(), msg.Raw, nil
}

// DecodeMessageReceived returns "<sourceDomain>:<nonce>" as lookup key and the message body as payload.
func DecodeMessageReceived(log types.Log) (string, []byte, error) {
	if len(log.Topics) != 3 {
		return "", nil, fmt.Errorf("%w: MessageReceived with %d topics", ErrMalformedMessage, len(log.Topics))
	}
	values, err := MessageTransmitterABI.Unpack("MessageReceived", log.Data)
	if err != nil {
		return "", nil, err
	}
	sourceDomain, ok := values[0].(uint32)
	if !ok {
		return "", nil, fmt.Errorf("%w: unexpected MessageReceived data", ErrMalformedMessage)
	}
	body, _ := values[2].([]byte)
	nonce := log.Topics[2].Big().Uint64()

	return ReceivedKey(sourceDomain, nonce), body, nil
}
