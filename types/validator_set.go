package types

import (
	"bytes"
	"fmt"

	"github.com/futureversecom/ethy/crypto"
)

// ValidatorSet is an ordered set of bridge authority public keys at a given
// validator set id.
//
// A validator's position in Validators is its authority index; aggregated
// proofs reference signatures by this index so a receiving chain can verify
// them against the same ordering cheaply. The ordering is supplied by the
// upstream session module and must be identical across all relay processes.
//
// NOTE: Not goroutine-safe.
type ValidatorSet struct {
	// Validators holds the authority public keys, ordered. Index = position.
	Validators []crypto.PubKey `json:"validators"`
	// ID identifies the validator set (era/session counter).
	ID uint64 `json:"id"`
	// ProofThreshold is the minimum number of validator signatures required
	// for a valid proof (the 'm' in 'm-of-n').
	ProofThreshold uint32 `json:"proof_threshold"`
}

// NewValidatorSet returns a ValidatorSet over the given ordered keys.
func NewValidatorSet(validators []crypto.PubKey, id uint64, proofThreshold uint32) *ValidatorSet {
	vals := &ValidatorSet{
		Validators:     validators,
		ID:             id,
		ProofThreshold: proofThreshold,
	}
	return vals
}

// EmptyValidatorSet returns an empty validator set with id 0.
func EmptyValidatorSet() *ValidatorSet {
	return &ValidatorSet{}
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	if vals == nil {
		return 0
	}
	return len(vals.Validators)
}

// AuthorityIndex returns the index of the given key in the set, if present.
func (vals *ValidatorSet) AuthorityIndex(key crypto.PubKey) (uint32, bool) {
	if vals == nil || key == nil {
		return 0, false
	}
	for i, v := range vals.Validators {
		if v.Equals(key) {
			return uint32(i), true
		}
	}
	return 0, false
}

// HasAuthority reports whether key is a member of the set.
func (vals *ValidatorSet) HasAuthority(key crypto.PubKey) bool {
	_, ok := vals.AuthorityIndex(key)
	return ok
}

// GetByIndex returns the validator public key at index i, or nil if i is out
// of range.
func (vals *ValidatorSet) GetByIndex(i uint32) crypto.PubKey {
	if vals == nil || int(i) >= len(vals.Validators) {
		return nil
	}
	return vals.Validators[i]
}

// Copy returns a shallow copy of the set. Keys are immutable values so
// sharing them is safe.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	if vals == nil {
		return nil
	}
	valsCopy := make([]crypto.PubKey, len(vals.Validators))
	copy(valsCopy, vals.Validators)
	return &ValidatorSet{
		Validators:     valsCopy,
		ID:             vals.ID,
		ProofThreshold: vals.ProofThreshold,
	}
}

// Equals reports whether both sets hold the same keys in the same order with
// the same id and threshold.
func (vals *ValidatorSet) Equals(other *ValidatorSet) bool {
	if vals == nil || other == nil {
		return vals == other
	}
	if vals.ID != other.ID || vals.ProofThreshold != other.ProofThreshold {
		return false
	}
	if len(vals.Validators) != len(other.Validators) {
		return false
	}
	for i, val := range vals.Validators {
		if !bytes.Equal(val.Bytes(), other.Validators[i].Bytes()) {
			return false
		}
	}
	return true
}

// ValidateBasic performs stateless checks on the set: keys must be non-nil
// and unique, and the proof threshold must be satisfiable.
func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return fmt.Errorf("validator set is nil or empty")
	}
	seen := make(map[string]struct{}, len(vals.Validators))
	for idx, val := range vals.Validators {
		if val == nil {
			return fmt.Errorf("nil validator key #%d", idx)
		}
		k := string(val.Bytes())
		if _, ok := seen[k]; ok {
			return fmt.Errorf("duplicate validator key #%d: %X", idx, val.Bytes())
		}
		seen[k] = struct{}{}
	}
	if int(vals.ProofThreshold) > len(vals.Validators) {
		return fmt.Errorf("proof threshold %d exceeds validator set size %d",
			vals.ProofThreshold, len(vals.Validators))
	}
	return nil
}

func (vals *ValidatorSet) String() string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	return fmt.Sprintf("ValidatorSet{ID:%d Threshold:%d Size:%d}",
		vals.ID, vals.ProofThreshold, len(vals.Validators))
}
