package types

import (
	"fmt"

	"github.com/futureversecom/ethy/libs/bytes"
)

// ProofVersionV1 is the current event proof encoding version.
const ProofVersionV1 uint32 = 1

// AuthoritySignature pairs a validator's authority index with its signature.
// The index refers to a position in the Ethereum validator set for
// ValidatorSetID, allowing compact on-chain verification.
type AuthoritySignature struct {
	AuthorityIndex uint32         `json:"authority_index"`
	Signature      bytes.HexBytes `json:"signature"`
}

// EventProof is an aggregated multi-signature proof for a bridge event,
// assembled once a threshold of verified witnesses is known.
//
// Signatures are ordered by ascending authority index regardless of witness
// arrival order.
type EventProof struct {
	// Digest of the event's signing data (hash function differs per chain).
	Digest Digest `json:"digest"`
	// EventID the proof covers.
	EventID EventID `json:"event_id"`
	// ValidatorSetID of the set that signed the proof.
	ValidatorSetID uint64 `json:"validator_set_id"`
	// Block is the finalized block hash of the event, when it was requested.
	Block [32]byte `json:"block"`
	// Signatures collected for the proof, ascending authority index.
	Signatures []AuthoritySignature `json:"signatures"`
}

// SignatureCount returns the number of collected, non-empty signatures.
func (p *EventProof) SignatureCount() int {
	count := 0
	for _, s := range p.Signatures {
		if len(s.Signature) > 0 {
			count++
		}
	}
	return count
}

// ExpandedSignatures returns a full list of signatures ordered by authority
// index, with empty values in place of missing signatures.
//
// n is the total size of the validator set for ValidatorSetID; receiving
// chains verify each slot against the validator at the same index.
func (p *EventProof) ExpandedSignatures(n int) []bytes.HexBytes {
	expanded := make([]bytes.HexBytes, n)
	for _, s := range p.Signatures {
		if int(s.AuthorityIndex) < n {
			expanded[s.AuthorityIndex] = s.Signature
		}
	}
	return expanded
}

func (p *EventProof) String() string {
	if p == nil {
		return "nil-EventProof"
	}
	return fmt.Sprintf("EventProof{Event:%d Set:%d Sigs:%d}",
		p.EventID, p.ValidatorSetID, len(p.Signatures))
}

// VersionedEventProof wraps an EventProof with an encoding version so stored
// proofs can evolve.
type VersionedEventProof struct {
	Version uint32     `json:"version"`
	Proof   EventProof `json:"proof"`
}
