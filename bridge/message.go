package bridge

import (
	"errors"
	"fmt"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
)

var ErrUnknownDomain = errors.New("unknown cctp domain")

// MessageFromEvent builds the Message announced by a stored MessageSent event.
func MessageFromEvent(testnet bool, event *db.StoredEvent) (*db.Message, error) {
	decoded, err := DecodeMessage(event.Payload)
	if err != nil {
		return nil, err
	}

	source, ok := ChainByID(event.ChainID)
	if !ok {
		return nil, &ConfigurationError{ChainID: event.ChainID, Reason: "unsupported chain"}
	}
	if source.Domain != decoded.SourceDomain {
		return nil, fmt.Errorf("%w: message from domain %d emitted on %s", ErrMalformedMessage, decoded.SourceDomain, source.Name)
	}
	destChainID, ok := ChainIDForDomain(testnet, decoded.DestinationDomain)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDomain, decoded.DestinationDomain)
	}

	return &db.Message{
		MessageHash:   decoded.Hash(),
		SourceChainID: event.ChainID,
		DestChainID:   destChainID,
		Nonce:         decoded.Nonce,
		Payload:       decoded.Raw,
		SentTxHash:    event.TxHash,
		SentBlock:     event.BlockNumber,
		SentTimestamp: event.BlockTimestamp,
		State:         db.StateSent,
	}, nil
}
