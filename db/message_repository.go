package db

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MessageRepository stores messages plus an index from state to message hash.
type MessageRepository struct {
	db IDB
}

func NewMessageRepository(db IDB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateIfNotExists stores m unless a message with the same hash exists. It reports whether m was created.
func (r *MessageRepository) CreateIfNotExists(m *Message) (bool, error) {
	key := messageKey(m.MessageHash)
	if ok, err := r.db.Has(key); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	now := time.Now()
	m.CreatedTime = now
	m.UpdatedTime = now

	batch := NewBatch()
	if err := putJSON(batch, key, m); err != nil {
		return false, err
	}
	batch.Put(messageStateKey(m.State, m.MessageHash), nil)

	if err := r.db.Write(batch); err != nil {
		return false, err
	}
	return true, nil
}

func (r *MessageRepository) Get(hash common.Hash) (*Message, bool, error) {
	var m Message
	ok, err := GetJSON(r.db, messageKey(hash), &m)
	if err != nil || !ok {
		return nil, false, err
	}

	return &m, true, nil
}

// Update persists m and moves its state index entry from prevState to m.State.
func (r *MessageRepository) Update(m *Message, prevState MessageState) error {
	m.UpdatedTime = time.Now()

	batch := NewBatch()
	if prevState != m.State {
		batch.Delete(messageStateKey(prevState, m.MessageHash))
		batch.Put(messageStateKey(m.State, m.MessageHash), nil)
	}
	if err := putJSON(batch, messageKey(m.MessageHash), m); err != nil {
		return err
	}

	return r.db.Write(batch)
}

// InState returns the messages currently in state.
func (r *MessageRepository) InState(state MessageState) ([]*Message, error) {
	prefix := messageStateIndexPrefix(state)

	var hashes []common.Hash
	err := r.db.Iterate(prefix, func(key, _ []byte) (bool, error) {
		hashes = append(hashes, common.HexToHash(string(key[len(prefix):])))
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(hashes))
	for _, hash := range hashes {
		m, ok, err := r.Get(hash)
		if err != nil {
			return nil, err
		}
		if ok {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// All walks every stored message.
func (r *MessageRepository) All(fn func(*Message) (bool, error)) error {
	return r.db.Iterate([]byte(messagePrefix), func(_, value []byte) (bool, error) {
		var m Message
		if err := json.Unmarshal(value, &m); err != nil {
			return false, err
		}
		return fn(&m)
	})
}

func (r *MessageRepository) MarkRelayed(txHash common.Hash) error {
	return r.db.Put(relayedKey(txHash), []byte("true"))
}

func (r *MessageRepository) IsRelayed(txHash common.Hash) (bool, error) {
	return r.db.Has(relayedKey(txHash))
}
