package crypto

import (
	"crypto/sha256"

	"github.com/futureversecom/ethy/libs/bytes"
)

const (
	// HashSize is the size in bytes of a digest.
	HashSize = sha256.Size

	// AddressSize is the size of a pubkey address.
	AddressSize = 20
)

// An address is a []byte, but hex-encoded even in JSON.
// []byte leaves us the option to change the address length.
// Use an alias so Unmarshal methods (with ptr receivers) are available too.
type Address = bytes.HexBytes

// Checksum returns the SHA256 of the bz.
func Checksum(bz []byte) []byte {
	h := sha256.Sum256(bz)
	return h[:]
}

// Sha256 returns the SHA256 of the bz.
func Sha256(bz []byte) []byte {
	return Checksum(bz)
}

// PubKey is the verification capability required of a bridge authority key.
type PubKey interface {
	Address() Address
	Bytes() []byte
	VerifySignature(msg []byte, sig []byte) bool
	Equals(PubKey) bool
	Type() string
}

// PrivKey is the signing capability held by a local authority.
type PrivKey interface {
	Bytes() []byte
	Sign(msg []byte) ([]byte, error)
	PubKey() PubKey
	Equals(PrivKey) bool
	Type() string
}
