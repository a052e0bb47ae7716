package db

import "github.com/ethereum/go-ethereum/common"

type AttestationRepository struct {
	db IDB
}

func NewAttestationRepository(db IDB) *AttestationRepository {
	return &AttestationRepository{db: db}
}

func (r *AttestationRepository) Get(hash common.Hash) (*AttestationRecord, bool, error) {
	var record AttestationRecord
	ok, err := GetJSON(r.db, attestationKey(hash), &record)
	if err != nil || !ok {
		return nil, false, err
	}

	return &record, true, nil
}

func (r *AttestationRepository) Put(record *AttestationRecord) error {
	return PutJSON(r.db, attestationKey(record.MessageHash), record)
}

func (r *AttestationRepository) Delete(hash common.Hash) error {
	return r.db.Delete(attestationKey(hash))
}
