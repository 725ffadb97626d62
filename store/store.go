package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/futureversecom/ethy/types"
)

// Store is a simple low level store for aggregated event proofs.
//
// A proof is written once per (chain, event id) after the relay observes
// consensus, and read back by RPC consumers building on-chain submissions.
// Proofs for an event may be concluded more than once across restarts;
// writes are idempotent last-writer-wins.
type Store struct {
	db dbm.DB
}

// NewStore returns a proof store backed by db.
func NewStore(db dbm.DB) *Store {
	return &Store{db: db}
}

// SaveProof persists a proof under its (chain, event id) key.
func (s *Store) SaveProof(chainID types.ChainID, proof *types.EventProof) error {
	versioned := types.VersionedEventProof{
		Version: types.ProofVersionV1,
		Proof:   *proof,
	}
	value, err := json.Marshal(&versioned)
	if err != nil {
		return fmt.Errorf("failed to encode proof for event %d: %w", proof.EventID, err)
	}
	return s.db.SetSync(proofKey(chainID, proof.EventID), value)
}

// LoadProof reads back the proof for (chain, event id). Returns nil with no
// error if no proof is stored.
func (s *Store) LoadProof(chainID types.ChainID, eventID types.EventID) (*types.EventProof, error) {
	value, err := s.db.Get(proofKey(chainID, eventID))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	var versioned types.VersionedEventProof
	if err := json.Unmarshal(value, &versioned); err != nil {
		return nil, fmt.Errorf("failed to decode proof for event %d: %w", eventID, err)
	}
	if versioned.Version != types.ProofVersionV1 {
		return nil, fmt.Errorf("unknown proof version %d for event %d", versioned.Version, eventID)
	}
	return &versioned.Proof, nil
}

// HasProof reports whether a proof is stored for (chain, event id).
func (s *Store) HasProof(chainID types.ChainID, eventID types.EventID) (bool, error) {
	return s.db.Has(proofKey(chainID, eventID))
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	// prefixes must be unique across all stored record types
	prefixProof = int64(0)
)

func proofKey(chainID types.ChainID, eventID types.EventID) []byte {
	key, err := orderedcode.Append(nil, prefixProof, int64(chainID), uint64(eventID))
	if err != nil {
		panic(err)
	}
	return key
}
