package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventRepository holds indexed logs and the per (chain, topic) sync markers.
type EventRepository struct {
	db IDB
}

func NewEventRepository(db IDB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) GetSyncMarker(chainID uint64, topic common.Hash) (*SyncMarker, bool, error) {
	var marker SyncMarker
	ok, err := GetJSON(r.db, markerKey(chainID, topic), &marker)
	if err != nil || !ok {
		return nil, false, err
	}

	return &marker, true, nil
}

// StoreEvents writes the events and moves the sync marker to lastSyncedBlock in one batch.
// Events are stamped with chainID and topic. Events already stored are skipped, only the
// newly created ones are returned.
func (r *EventRepository) StoreEvents(chainID uint64, topic common.Hash, events []*StoredEvent, lastSyncedBlock uint64) ([]*StoredEvent, error) {
	batch := NewBatch()
	seen := make(map[string]struct{}, len(events))

	var created []*StoredEvent
	for _, event := range events {
		event.ChainID = chainID
		event.Topic = topic
		key := eventKey(event)
		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}

		if ok, err := r.db.Has(key); err != nil {
			return nil, err
		} else if ok {
			continue
		}

		if err := putJSON(batch, key, event); err != nil {
			return nil, err
		}
		if event.Key != "" {
			batch.Put(eventRefKey(chainID, topic, event.Key), key)
		}
		created = append(created, event)
	}

	marker := &SyncMarker{
		ChainID:         chainID,
		Topic:           topic.Hex(),
		LastSyncedBlock: lastSyncedBlock,
		UpdatedTime:     time.Now(),
	}
	if err := putJSON(batch, markerKey(chainID, topic), marker); err != nil {
		return nil, err
	}

	if err := r.db.Write(batch); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *EventRepository) HasEvent(chainID uint64, topic common.Hash, lookup string) (bool, error) {
	return r.db.Has(eventRefKey(chainID, topic, lookup))
}

func (r *EventRepository) GetEvent(chainID uint64, topic common.Hash, lookup string) (*StoredEvent, bool, error) {
	key, err := r.db.Get(eventRefKey(chainID, topic, lookup))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var event StoredEvent
	ok, err := GetJSON(r.db, key, &event)
	if err != nil || !ok {
		return nil, false, err
	}
	return &event, true, nil
}

// Events walks the stored events of a topic in block order.
func (r *EventRepository) Events(chainID uint64, topic common.Hash, fn func(*StoredEvent) (bool, error)) error {
	return r.db.Iterate(eventTopicPrefix(chainID, topic), func(_, value []byte) (bool, error) {
		var event StoredEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return false, err
		}
		return fn(&event)
	})
}
