package db

import (
	"encoding/json"
	"errors"
	"strconv"
)

// GetJSON decodes the value stored at key into v. It returns false when the key is missing.
func GetJSON(db IDB, key []byte, v any) (bool, error) {
	val, err := db.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(val, v); err != nil {
		return false, err
	}
	return true, nil
}

// PutJSON stores v encoded as JSON at key.
func PutJSON(db IDB, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return db.Put(key, val)
}

func putJSON(batch *Batch, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}

	batch.Put(key, val)
	return nil
}

// GetUint64 retrieves the value of a key and converts it to an uint64.
// If not found, return 0 and false.
func GetUint64(db IDB, key []byte) (uint64, bool, error) {
	val, err := db.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	n, err := strconv.ParseUint(string(val), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SetUint64 sets uint64 value of a key in the database
func SetUint64(db IDB, key []byte, value uint64) error {
	return db.Put(key, []byte(strconv.FormatUint(value, 10)))
}
