package keystore

import (
	"errors"

	"github.com/futureversecom/ethy/crypto"
	"github.com/futureversecom/ethy/types"
)

// ErrNoLocalKey is returned when signing is requested but no private key is
// loaded (the relay is running passively).
var ErrNoLocalKey = errors.New("no local authority key")

// Keystore holds the relay's local session key, if any.
//
// A relay without a key still aggregates witnesses from the network; only
// relays whose key appears in the active validator set produce witnesses of
// their own.
type Keystore struct {
	privKey crypto.PrivKey
}

// New returns a Keystore over privKey. privKey may be nil for a passive,
// non-signing relay.
func New(privKey crypto.PrivKey) *Keystore {
	return &Keystore{privKey: privKey}
}

// AuthorityKey returns the local public key if it is a member of validators.
func (ks *Keystore) AuthorityKey(validators []crypto.PubKey) (crypto.PubKey, bool) {
	if ks == nil || ks.privKey == nil {
		return nil, false
	}
	local := ks.privKey.PubKey()
	for _, v := range validators {
		if local.Equals(v) {
			return local, true
		}
	}
	return nil, false
}

// SignDigest signs a prepared event digest with the local key.
func (ks *Keystore) SignDigest(d types.Digest) ([]byte, error) {
	if ks == nil || ks.privKey == nil {
		return nil, ErrNoLocalKey
	}
	return ks.privKey.Sign(d[:])
}
