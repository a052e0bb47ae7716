package db

type FinalityRepository struct {
	db IDB
}

func NewFinalityRepository(db IDB) *FinalityRepository {
	return &FinalityRepository{db: db}
}

func (r *FinalityRepository) Get(chainID uint64) (*FinalityRecord, bool, error) {
	var record FinalityRecord
	ok, err := GetJSON(r.db, finalityKey(chainID), &record)
	if err != nil || !ok {
		return nil, false, err
	}

	return &record, true, nil
}

func (r *FinalityRepository) Put(record *FinalityRecord) error {
	return PutJSON(r.db, finalityKey(record.ChainID), record)
}
