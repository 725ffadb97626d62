package digest

import (
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/futureversecom/ethy/crypto"
	"github.com/futureversecom/ethy/types"
)

// ErrUnknownChain is returned for a chain id with no digest encoding.
var ErrUnknownChain = errors.New("no digest encoding for chain id")

// xrplMultiSignPrefix is prepended to XRPL transaction data before hashing
// for multi-signing ("SMT\x00" per the XRP Ledger serialization format).
var xrplMultiSignPrefix = []byte{0x53, 0x4D, 0x54, 0x00}

// xrplTxSignPrefix is the single-signature transaction prefix ("STX\x00"),
// used for the signer-independent transaction digest.
var xrplTxSignPrefix = []byte{0x53, 0x54, 0x58, 0x00}

// Generator derives the canonical signing digest for event data destined for
// a given chain.
//
// Implementations must be deterministic and identical across all relay
// processes: every validator recomputes the digest locally and compares it
// with the digest claimed in a witness.
type Generator interface {
	// Digest returns the signing digest of data for chain, on behalf of the
	// signer holding signerKey. Some chains (XRPL) bind the signer's key
	// into the digest, so the result may differ per authority.
	Digest(chain types.ChainID, data []byte, signerKey crypto.PubKey) (types.Digest, error)

	// EventDigest returns the signer-independent canonical digest of data
	// for chain, the event identity recorded on an assembled proof.
	EventDigest(chain types.ChainID, data []byte) (types.Digest, error)
}

// ChainSet is the default Generator covering the bridged networks.
type ChainSet struct{}

var _ Generator = ChainSet{}

// Digest implements Generator.
//
// Ethereum event data is produced upstream as a keccak256 digest already, so
// it passes through unchanged after a length check. XRPL computes the
// multi-signing digest, which folds the signer's account into the hash.
func (ChainSet) Digest(chain types.ChainID, data []byte, signerKey crypto.PubKey) (types.Digest, error) {
	switch chain {
	case types.ChainEthereum:
		var d types.Digest
		if len(data) != types.DigestSize {
			return d, fmt.Errorf("ethereum event data must be a %d byte digest, got %d bytes",
				types.DigestSize, len(data))
		}
		copy(d[:], data)
		return d, nil

	case types.ChainXRPL:
		if signerKey == nil {
			return types.Digest{}, errors.New("xrpl digest requires a signer key")
		}
		return xrplMultiSigningDigest(data, signerKey), nil

	default:
		return types.Digest{}, fmt.Errorf("%w: %d", ErrUnknownChain, uint8(chain))
	}
}

// EventDigest implements Generator.
//
// Ethereum passes the upstream keccak256 digest through like Digest does.
// For XRPL the multi-signing digests differ per signer, so the proof records
// the transaction digest instead: SHA512Half(STX prefix || data).
func (ChainSet) EventDigest(chain types.ChainID, data []byte) (types.Digest, error) {
	switch chain {
	case types.ChainEthereum:
		var d types.Digest
		if len(data) != types.DigestSize {
			return d, fmt.Errorf("ethereum event data must be a %d byte digest, got %d bytes",
				types.DigestSize, len(data))
		}
		copy(d[:], data)
		return d, nil

	case types.ChainXRPL:
		buf := make([]byte, 0, len(xrplTxSignPrefix)+len(data))
		buf = append(buf, xrplTxSignPrefix...)
		buf = append(buf, data...)
		h := sha512.Sum512(buf)

		var d types.Digest
		copy(d[:], h[:types.DigestSize])
		return d, nil

	default:
		return types.Digest{}, fmt.Errorf("%w: %d", ErrUnknownChain, uint8(chain))
	}
}

// xrplMultiSigningDigest computes the digest an XRPL multi-signer signs:
// SHA512Half(SMT prefix || data || signer account id). Each signer suffixes
// its own account id, so digests are unique per authority key.
func xrplMultiSigningDigest(data []byte, signerKey crypto.PubKey) types.Digest {
	accountID := signerKey.Address()

	buf := make([]byte, 0, len(xrplMultiSignPrefix)+len(data)+len(accountID))
	buf = append(buf, xrplMultiSignPrefix...)
	buf = append(buf, data...)
	buf = append(buf, accountID...)

	h := sha512.Sum512(buf)

	var d types.Digest
	copy(d[:], h[:types.DigestSize])
	return d
}
