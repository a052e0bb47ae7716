package txmanager

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// TransactOptsSigner signs with the keyed signer of a bind.TransactOpts.
type TransactOptsSigner struct {
	opts *bind.TransactOpts
}

func NewTransactOptsSigner(opts *bind.TransactOpts) *TransactOptsSigner {
	return &TransactOptsSigner{opts: opts}
}

// NewPrivateKeySigner builds a signer for chainID from a hex encoded key.
func NewPrivateKeySigner(hexKey string, chainID uint64) (*TransactOptsSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, err
	}

	return NewTransactOptsSigner(opts), nil
}

func (s *TransactOptsSigner) Address() common.Address {
	return s.opts.From
}

func (s *TransactOptsSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return s.opts.Signer(s.opts.From, tx)
}
