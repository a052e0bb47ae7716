package db

import (
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// TxRepository stores in-flight transactions and the local nonce counter of one (chain, account).
type TxRepository struct {
	db      IDB
	chainID uint64
	account common.Address
}

func NewTxRepository(db IDB, chainID uint64, account common.Address) *TxRepository {
	return &TxRepository{db: db, chainID: chainID, account: account}
}

func (r *TxRepository) Get(nonce uint64) (*InFlightTransaction, bool, error) {
	var tx InFlightTransaction
	ok, err := GetJSON(r.db, inflightKey(r.chainID, r.account, nonce), &tx)
	if err != nil || !ok {
		return nil, false, err
	}

	return &tx, true, nil
}

// Save overwrites the record of tx.Nonce in place.
func (r *TxRepository) Save(tx *InFlightTransaction) error {
	return PutJSON(r.db, inflightKey(r.chainID, r.account, tx.Nonce), tx)
}

// SaveWithNonce stores tx, points its meta at it and stores the next nonce to hand out, atomically.
func (r *TxRepository) SaveWithNonce(tx *InFlightTransaction, nextNonce uint64) error {
	batch := NewBatch()
	if err := putJSON(batch, inflightKey(r.chainID, r.account, tx.Nonce), tx); err != nil {
		return err
	}
	if tx.Meta != "" {
		batch.Put(txMetaKey(r.chainID, r.account, tx.Meta), []byte(strconv.FormatUint(tx.Nonce, 10)))
	}
	batch.Put(nonceKey(r.chainID, r.account), []byte(strconv.FormatUint(nextNonce, 10)))

	return r.db.Write(batch)
}

// DeleteWithNonce drops the record of nonce and resets the counter to nextNonce. A meta index
// pointing at the dropped record falls back to the newest remaining record with that meta.
func (r *TxRepository) DeleteWithNonce(nonce uint64, nextNonce uint64) error {
	batch := NewBatch()
	batch.Delete(inflightKey(r.chainID, r.account, nonce))
	batch.Put(nonceKey(r.chainID, r.account), []byte(strconv.FormatUint(nextNonce, 10)))

	tx, ok, err := r.Get(nonce)
	if err != nil {
		return err
	}
	if ok && tx.Meta != "" {
		metaKey := txMetaKey(r.chainID, r.account, tx.Meta)
		indexed, found, err := GetUint64(r.db, metaKey)
		if err != nil {
			return err
		}
		if found && indexed == nonce {
			prev, ok, err := r.scanLatestByMeta(tx.Meta, nonce)
			if err != nil {
				return err
			}
			if ok {
				batch.Put(metaKey, []byte(strconv.FormatUint(prev.Nonce, 10)))
			} else {
				batch.Delete(metaKey)
			}
		}
	}

	return r.db.Write(batch)
}

func (r *TxRepository) GetNonce() (uint64, bool, error) {
	return GetUint64(r.db, nonceKey(r.chainID, r.account))
}

func (r *TxRepository) SetNonce(nonce uint64) error {
	return SetUint64(r.db, nonceKey(r.chainID, r.account), nonce)
}

// All walks every record of the account in nonce order.
func (r *TxRepository) All(fn func(*InFlightTransaction) (bool, error)) error {
	return r.db.Iterate(inflightAccountPrefix(r.chainID, r.account), func(_, value []byte) (bool, error) {
		var tx InFlightTransaction
		if err := json.Unmarshal(value, &tx); err != nil {
			return false, err
		}
		return fn(&tx)
	})
}

// Live returns the unconfirmed records in nonce order.
func (r *TxRepository) Live() ([]*InFlightTransaction, error) {
	var txs []*InFlightTransaction
	err := r.All(func(tx *InFlightTransaction) (bool, error) {
		if tx.Status == TxStatusPending {
			txs = append(txs, tx)
		}
		return true, nil
	})

	return txs, err
}

// LatestByMeta returns the record with the highest nonce carrying meta.
func (r *TxRepository) LatestByMeta(meta string) (*InFlightTransaction, bool, error) {
	nonce, ok, err := GetUint64(r.db, txMetaKey(r.chainID, r.account, meta))
	if err != nil || !ok {
		return nil, false, err
	}
	return r.Get(nonce)
}

// scanLatestByMeta walks every record for the newest one carrying meta, skipping nonce.
func (r *TxRepository) scanLatestByMeta(meta string, skip uint64) (*InFlightTransaction, bool, error) {
	var latest *InFlightTransaction
	err := r.All(func(tx *InFlightTransaction) (bool, error) {
		if tx.Meta == meta && tx.Nonce != skip {
			latest = tx
		}
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}

	return latest, latest != nil, nil
}
