package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ChainID identifies a bridged network.
//
// The chain id selects the digest encoding used when signing event data and
// which validator subset's proof threshold applies.
type ChainID uint8

const (
	// ChainEthereum is the chain id given to Ethereum by the bridge.
	ChainEthereum ChainID = 1
	// ChainXRPL is the chain id given to the XRP Ledger by the bridge.
	ChainXRPL ChainID = 2
)

// IsValid reports whether the chain id is a known bridged network.
func (c ChainID) IsValid() bool {
	return c == ChainEthereum || c == ChainXRPL
}

func (c ChainID) String() string {
	switch c {
	case ChainEthereum:
		return "ethereum"
	case ChainXRPL:
		return "xrpl"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// EventID is a unique nonce for event proof requests. Ids are assigned
// upstream, monotonically increasing across all bridged networks.
type EventID uint64

const (
	// DigestSize is the size in bytes of a signing digest.
	DigestSize = 32
)

// Digest is the canonical 32 byte hash of an event's signing data, per the
// target chain's encoding.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

// Bytes returns the digest as a byte slice.
func (d Digest) Bytes() []byte {
	return d[:]
}
