package types

import (
	"errors"
	"fmt"

	"github.com/futureversecom/ethy/crypto"
)

var (
	ErrWitnessNil              = errors.New("nil witness")
	ErrWitnessInvalidChain     = errors.New("invalid chain id")
	ErrWitnessNilAuthority     = errors.New("nil authority key")
	ErrWitnessInvalidSignature = errors.New("invalid signature size")
)

// Witness is a validator's signed attestation that an event id carries a
// specific digest.
//
// Witnesses are produced by each relay process for events observed in
// finalized blocks and gossiped to peers. They are transient inputs: once
// verified only the (authority index, signature) pair is retained.
type Witness struct {
	// Digest of the event's signing data as claimed by the sender (the hash
	// function differs per chain id; XRPL digests are unique per signer).
	Digest Digest `json:"digest"`
	// ChainID of the destination network for the event.
	ChainID ChainID `json:"chain_id"`
	// EventID this witness attests to.
	EventID EventID `json:"event_id"`
	// ValidatorSetID the sender claims membership of.
	ValidatorSetID uint64 `json:"validator_set_id"`
	// AuthorityKey is the sender's session public key.
	AuthorityKey crypto.PubKey `json:"authority_key"`
	// Signature over Digest by AuthorityKey.
	Signature []byte `json:"signature"`
	// BlockNumber is the finalized block the proof request was observed in,
	// used by the gossip layer's live window.
	BlockNumber uint64 `json:"block_number"`
}

// ValidateBasic performs stateless validity checks on the witness.
func (w *Witness) ValidateBasic() error {
	if w == nil {
		return ErrWitnessNil
	}
	if !w.ChainID.IsValid() {
		return ErrWitnessInvalidChain
	}
	if w.AuthorityKey == nil {
		return ErrWitnessNilAuthority
	}
	if len(w.Signature) == 0 {
		return ErrWitnessInvalidSignature
	}
	return nil
}

func (w *Witness) String() string {
	if w == nil {
		return "nil-Witness"
	}
	return fmt.Sprintf("Witness{Event:%d Chain:%v Set:%d Authority:%X}",
		w.EventID, w.ChainID, w.ValidatorSetID, w.AuthorityKey.Bytes())
}
