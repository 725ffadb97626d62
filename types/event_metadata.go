package types

import (
	"github.com/futureversecom/ethy/libs/bytes"
)

// EventMetadata holds the locally observed facts about a bridge event,
// created once from a finalized block and immutable afterward.
//
// The raw signing data is stored rather than its digest: XRPL digests are
// unique per signer key, so the digest must be recomputed for each witness
// authority during verification.
type EventMetadata struct {
	// ChainID of the destination network.
	ChainID ChainID `json:"chain_id"`
	// Data is the raw signing payload from the proof request.
	Data bytes.HexBytes `json:"data"`
	// BlockHash of the finalized block the proof request was observed in.
	BlockHash [32]byte `json:"block_hash"`
}

// ProofRequest is an upstream instruction to witness an event: sign `Data`
// for `ChainID` under event id `EventID`.
type ProofRequest struct {
	// ChainID of the destination network for the requested proof.
	ChainID ChainID `json:"chain_id"`
	// Data for signing (a digest already, or raw bytes, depending on the
	// destination chain's bridge protocol).
	Data bytes.HexBytes `json:"data"`
	// EventID is the nonce/event id of this request.
	EventID EventID `json:"event_id"`
	// Block is the finalized block hash where the proof was requested.
	Block [32]byte `json:"block"`
	// BlockNumber is the finalized block number where the proof was requested.
	BlockNumber uint64 `json:"block_number"`
}
