package attestation

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
)

const memoryCacheSize = 1024

type Fetcher interface {
	Fetch(ctx context.Context, hash common.Hash) (*db.AttestationRecord, error)
}

// Store looks attestations up in memory, then in the database, then at the attestation service.
// Only complete attestations are kept in memory.
type Store struct {
	fetcher        Fetcher
	repo           *db.AttestationRepository
	cache          *lru.Cache[common.Hash, []byte]
	pendingRecheck time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewStore(fetcher Fetcher, database db.IDB, pendingRecheck time.Duration, logger *zap.Logger) (*Store, error) {
	cache, err := lru.New[common.Hash, []byte](memoryCacheSize)
	if err != nil {
		return nil, err
	}

	return &Store{
		fetcher:        fetcher,
		repo:           db.NewAttestationRepository(database),
		cache:          cache,
		pendingRecheck: pendingRecheck,
		logger:         logger.Named("attestation-store"),
		now:            time.Now,
	}, nil
}

// Get returns the complete attestation of hash, fetching it when nothing complete is stored.
// A stored pending answer younger than the recheck interval is trusted without a fetch.
func (s *Store) Get(ctx context.Context, hash common.Hash) ([]byte, bool, error) {
	if attestation, ok := s.cache.Get(hash); ok {
		return attestation, true, nil
	}

	record, ok, err := s.repo.Get(hash)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if record.Status == db.AttestationComplete {
			s.cache.Add(hash, record.Attestation)
			return record.Attestation, true, nil
		}
		if s.now().Sub(record.FetchedAt) < s.pendingRecheck {
			return nil, false, nil
		}
	}

	record, err = s.fetcher.Fetch(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if err := s.repo.Put(record); err != nil {
		return nil, false, err
	}
	if record.Status != db.AttestationComplete {
		return nil, false, nil
	}

	s.logger.Info("attestation available", zap.Stringer("messageHash", hash))
	s.cache.Add(hash, record.Attestation)
	return record.Attestation, true, nil
}

// Cached returns a complete attestation without contacting the attestation service.
func (s *Store) Cached(hash common.Hash) ([]byte, bool, error) {
	if attestation, ok := s.cache.Get(hash); ok {
		return attestation, true, nil
	}

	record, ok, err := s.repo.Get(hash)
	if err != nil || !ok || record.Status != db.AttestationComplete {
		return nil, false, err
	}
	return record.Attestation, true, nil
}

// Invalidate forgets the attestation of hash so the next Get fetches it again.
func (s *Store) Invalidate(hash common.Hash) error {
	s.cache.Remove(hash)
	return s.repo.Delete(hash)
}
