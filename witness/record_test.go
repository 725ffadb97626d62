package witness

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/futureversecom/ethy/crypto"
	"github.com/futureversecom/ethy/crypto/secp256k1"
	"github.com/futureversecom/ethy/digest"
	"github.com/futureversecom/ethy/libs/log"
	"github.com/futureversecom/ethy/types"
)

const testValidatorSetID = 5

func devSigners() []secp256k1.PrivKey {
	return []secp256k1.PrivKey{
		secp256k1.GenPrivKeySecp256k1([]byte("alice")),
		secp256k1.GenPrivKeySecp256k1([]byte("bob")),
		secp256k1.GenPrivKeySecp256k1([]byte("charlie")),
	}
}

func devSignersXRPL() []secp256k1.PrivKey {
	return devSigners()[:2]
}

func pubKeys(privKeys []secp256k1.PrivKey) []crypto.PubKey {
	keys := make([]crypto.PubKey, len(privKeys))
	for i, pk := range privKeys {
		keys[i] = pk.PubKey()
	}
	return keys
}

// newTestRecord determines the authority indexes as
// (0, alice), (1, bob), (2, charlie), etc.
func newTestRecord(t *testing.T, privKeys []secp256k1.PrivKey, threshold uint32) *Record {
	t.Helper()
	r := NewRecord(log.NewTestingLogger(t), digest.ChainSet{})
	r.SetValidators(
		types.NewValidatorSet(pubKeys(privKeys), testValidatorSetID, threshold),
		types.EmptyValidatorSet(),
	)
	return r
}

// createWitness builds a valid witness from privKey over data for chainID.
func createWitness(t *testing.T, privKey secp256k1.PrivKey, eventID types.EventID, chainID types.ChainID, data []byte) *types.Witness {
	t.Helper()
	pubKey := privKey.PubKey()

	d, err := (digest.ChainSet{}).Digest(chainID, data, pubKey)
	require.NoError(t, err)

	sig, err := privKey.Sign(d[:])
	require.NoError(t, err)

	return &types.Witness{
		Digest:         d,
		ChainID:        chainID,
		EventID:        eventID,
		ValidatorSetID: testValidatorSetID,
		AuthorityKey:   pubKey,
		Signature:      sig,
	}
}

func ethData() []byte {
	// upstream delivers ethereum signing data as a keccak256 digest already
	return bytes.Repeat([]byte{1}, types.DigestSize)
}

func TestSignaturesForOrderedByAuthorityIndex(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(5)
	data := ethData()
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)

	// note signatures in reverse order
	for i := len(privKeys) - 1; i >= 0; i-- {
		status, err := r.NoteEventWitness(createWitness(t, privKeys[i], eventID, types.ChainEthereum, data))
		require.NoError(t, err)
		require.Equal(t, StatusVerified, status)
	}

	// signatures returned in authority index order
	sigs := r.SignaturesFor(eventID)
	require.Len(t, sigs, len(privKeys))
	for i, privKey := range privKeys {
		d, err := (digest.ChainSet{}).Digest(types.ChainEthereum, data, privKey.PubKey())
		require.NoError(t, err)
		expected, err := privKey.Sign(d.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint32(i), sigs[i].AuthorityIndex)
		assert.Equal(t, expected, []byte(sigs[i].Signature))
	}
}

func TestNoteEventWitnessDuplicateWitness(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(5)
	data := ethData()
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)

	// alice votes twice
	w := createWitness(t, privKeys[0], eventID, types.ChainEthereum, data)
	status, err := r.NoteEventWitness(w)
	require.NoError(t, err)
	require.Equal(t, StatusVerified, status)
	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, ErrDuplicateWitness)

	// bob votes twice
	w = createWitness(t, privKeys[1], eventID, types.ChainEthereum, data)
	status, err = r.NoteEventWitness(w)
	require.NoError(t, err)
	require.Equal(t, StatusVerified, status)
	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, ErrDuplicateWitness)

	// never two verified votes from one authority
	require.Len(t, r.SignaturesFor(eventID), 2)
}

func TestNoteEventWitnessMismatchedDigest(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(5)
	w := createWitness(t, privKeys[0], eventID, types.ChainEthereum, ethData())

	// local metadata disagrees with the data the witness signed
	r.NoteEventMetadata(eventID, bytes.Repeat([]byte{2}, types.DigestSize), [32]byte{}, types.ChainEthereum)

	_, err := r.NoteEventWitness(w)
	require.ErrorIs(t, err, ErrMismatchedDigest)
	require.Empty(t, r.SignaturesFor(eventID))
}

func TestNoteEventWitnessBadSignature(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(5)
	data := ethData()
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)

	// claimed digest is canonical but the signature is over something else
	w := createWitness(t, privKeys[0], eventID, types.ChainEthereum, data)
	badSig, err := privKeys[0].Sign(bytes.Repeat([]byte{9}, types.DigestSize))
	require.NoError(t, err)
	w.Signature = badSig

	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, ErrSignatureVerification)
	require.Empty(t, r.SignaturesFor(eventID))
}

func TestNoteEventWitnessMalformed(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(5)
	data := ethData()
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)

	// remote peers can send anything; none of these may panic
	_, err := r.NoteEventWitness(nil)
	require.ErrorIs(t, err, types.ErrWitnessNil)

	w := createWitness(t, privKeys[0], eventID, types.ChainEthereum, data)
	w.AuthorityKey = nil
	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, types.ErrWitnessNilAuthority)

	w = createWitness(t, privKeys[0], eventID, types.ChainEthereum, data)
	w.ChainID = types.ChainID(200)
	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, types.ErrWitnessInvalidChain)

	w = createWitness(t, privKeys[0], eventID, types.ChainEthereum, data)
	w.Signature = nil
	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, types.ErrWitnessInvalidSignature)

	// a nil-key witness must not panic on the buffered path either
	unknownEvent := types.EventID(6)
	_, err = r.NoteEventWitness(&types.Witness{EventID: unknownEvent, ChainID: types.ChainEthereum})
	require.ErrorIs(t, err, types.ErrWitnessNilAuthority)
	assert.NotContains(t, r.unverified, unknownEvent)

	require.Empty(t, r.SignaturesFor(eventID))
}

func TestNoteEventWitnessDigestCreationFailed(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(5)
	w := createWitness(t, privKeys[0], eventID, types.ChainEthereum, ethData())

	// local metadata carries data no ethereum digest can be derived from
	r.NoteEventMetadata(eventID, []byte("not-a-digest"), [32]byte{}, types.ChainEthereum)

	_, err := r.NoteEventWitness(w)
	require.ErrorIs(t, err, ErrDigestCreationFailed)
	require.Empty(t, r.SignaturesFor(eventID))
}

func TestNoteEventWitnessUnknownAuthority(t *testing.T) {
	davePriv := secp256k1.GenPrivKeySecp256k1([]byte("dave"))
	r := newTestRecord(t, devSigners(), 2)

	eventID := types.EventID(5)
	data := ethData()
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)

	_, err := r.NoteEventWitness(createWitness(t, davePriv, eventID, types.ChainEthereum, data))
	require.ErrorIs(t, err, ErrUnknownAuthority)
}

func TestNoteEventWitnessCompletedEvent(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)
	eventID := types.EventID(5)
	data := ethData()

	_, err := r.NoteEventWitness(createWitness(t, privKeys[0], eventID, types.ChainEthereum, data))
	require.NoError(t, err)
	w := createWitness(t, privKeys[2], eventID, types.ChainEthereum, data)
	_, err = r.NoteEventWitness(w)
	require.NoError(t, err)

	// event complete
	r.MarkComplete(eventID)
	_, err = r.NoteEventWitness(w)
	require.ErrorIs(t, err, ErrCompletedEvent)

	// memory cleared
	assert.Nil(t, r.EventMetadata(eventID))
	assert.NotContains(t, r.hasWitnessed, eventID)
	assert.NotContains(t, r.witnesses, eventID)
	assert.NotContains(t, r.unverified, eventID)
	assert.Equal(t, []types.EventID{eventID}, r.completedEvents)
}

// The first two events (0 and 1) completing in the incorrect order must both
// be completed once and only once.
func TestCompletedEventFirstTwoIncorrectOrder(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)
	data := ethData()

	// note and complete event 1
	w1 := createWitness(t, privKeys[0], 1, types.ChainEthereum, data)
	_, err := r.NoteEventWitness(w1)
	require.NoError(t, err)
	r.MarkComplete(1)
	_, err = r.NoteEventWitness(w1)
	require.ErrorIs(t, err, ErrCompletedEvent)
	require.Equal(t, []types.EventID{1}, r.completedEvents)

	// note and complete event 0
	w0 := createWitness(t, privKeys[1], 0, types.ChainEthereum, data)
	_, err = r.NoteEventWitness(w0)
	require.NoError(t, err)
	r.MarkComplete(0)
	_, err = r.NoteEventWitness(w0)
	require.ErrorIs(t, err, ErrCompletedEvent)
	// 0 and 1 both kept, not pruned
	require.Equal(t, []types.EventID{0, 1}, r.completedEvents)

	// note and complete event 2
	w2 := createWitness(t, privKeys[2], 2, types.ChainEthereum, data)
	_, err = r.NoteEventWitness(w2)
	require.NoError(t, err)
	r.MarkComplete(2)
	// 0 pruned, both 1 and 2 kept
	require.Equal(t, []types.EventID{1, 2}, r.completedEvents)

	// further witnesses on all three events fail
	for _, w := range []*types.Witness{w0, w1, w2} {
		_, err = r.NoteEventWitness(w)
		require.ErrorIs(t, err, ErrCompletedEvent)
	}
}

// The first two events (0 and 1) completing in the correct order must both
// be completed once and only once.
func TestCompletedEventFirstTwoCorrectOrder(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)
	data := ethData()

	w0 := createWitness(t, privKeys[2], 0, types.ChainEthereum, data)
	_, err := r.NoteEventWitness(w0)
	require.NoError(t, err)
	r.MarkComplete(0)
	_, err = r.NoteEventWitness(w0)
	require.ErrorIs(t, err, ErrCompletedEvent)
	require.Equal(t, []types.EventID{0}, r.completedEvents)

	w1 := createWitness(t, privKeys[0], 1, types.ChainEthereum, data)
	_, err = r.NoteEventWitness(w1)
	require.NoError(t, err)
	r.MarkComplete(1)
	_, err = r.NoteEventWitness(w1)
	require.ErrorIs(t, err, ErrCompletedEvent)
	require.Equal(t, []types.EventID{0, 1}, r.completedEvents)

	w2 := createWitness(t, privKeys[1], 2, types.ChainEthereum, data)
	_, err = r.NoteEventWitness(w2)
	require.NoError(t, err)
	r.MarkComplete(2)
	require.Equal(t, []types.EventID{1, 2}, r.completedEvents)

	for _, w := range []*types.Witness{w0, w1, w2} {
		_, err = r.NoteEventWitness(w)
		require.ErrorIs(t, err, ErrCompletedEvent)
	}
}

func TestNoteEventWitnessOutOfOrderEvent(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	// ids 1, 2 & 4 are complete
	r.MarkComplete(1)
	r.MarkComplete(2)
	r.MarkComplete(4)

	// id 3 should be accepted
	_, err := r.NoteEventWitness(createWitness(t, privKeys[0], 3, types.ChainEthereum, ethData()))
	require.NoError(t, err)
}

func TestHasConsensus(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)
	eventID := types.EventID(5)
	data := ethData()

	status, err := r.NoteEventWitness(createWitness(t, privKeys[0], eventID, types.ChainEthereum, data))
	require.NoError(t, err)
	require.Equal(t, StatusDigestUnverified, status)
	assert.False(t, r.HasConsensus(eventID, types.ChainEthereum))

	status, err = r.NoteEventWitness(createWitness(t, privKeys[1], eventID, types.ChainEthereum, data))
	require.NoError(t, err)
	require.Equal(t, StatusDigestUnverified, status)

	// both witnesses are unverified, no consensus yet
	assert.False(t, r.HasConsensus(eventID, types.ChainEthereum))

	// metadata arrives and the buffered witnesses are replayed; consensus
	// flips with no other input change
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)
	r.ProcessUnverifiedWitnesses(eventID)

	assert.True(t, r.HasConsensus(eventID, types.ChainEthereum))
	assert.True(t, r.HasConsensus(eventID, types.ChainEthereum))
}

func TestHasConsensusXRPL(t *testing.T) {
	privKeys := devSigners()
	xrplPrivKeys := devSignersXRPL()

	r := NewRecord(log.NewTestingLogger(t), digest.ChainSet{})
	r.SetValidators(
		types.NewValidatorSet(pubKeys(privKeys), 1, 3),
		types.NewValidatorSet(pubKeys(xrplPrivKeys), 1, 2),
	)

	eventID := types.EventID(5)
	data := []byte("xrpl-tx-data")
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainXRPL)

	status, err := r.NoteEventWitness(createWitness(t, privKeys[0], eventID, types.ChainXRPL, data))
	require.NoError(t, err)
	require.Equal(t, StatusVerified, status)
	assert.False(t, r.HasConsensus(eventID, types.ChainXRPL))

	// charlie is not an XRPL signer so cannot affect consensus
	status, err = r.NoteEventWitness(createWitness(t, privKeys[2], eventID, types.ChainXRPL, data))
	require.NoError(t, err)
	require.Equal(t, StatusVerified, status)
	assert.False(t, r.HasConsensus(eventID, types.ChainXRPL))

	// bob signs and we have consensus
	status, err = r.NoteEventWitness(createWitness(t, privKeys[1], eventID, types.ChainXRPL, data))
	require.NoError(t, err)
	require.Equal(t, StatusVerified, status)
	assert.True(t, r.HasConsensus(eventID, types.ChainXRPL))
}

func TestXRPLDigestsUniquePerAuthority(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)

	eventID := types.EventID(7)
	data := []byte("xrpl-tx-data")
	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainXRPL)

	wAlice := createWitness(t, privKeys[0], eventID, types.ChainXRPL, data)
	wBob := createWitness(t, privKeys[1], eventID, types.ChainXRPL, data)
	require.NotEqual(t, wAlice.Digest, wBob.Digest)

	// each verifies against its own per-signer digest
	_, err := r.NoteEventWitness(wAlice)
	require.NoError(t, err)
	_, err = r.NoteEventWitness(wBob)
	require.NoError(t, err)
	require.Len(t, r.SignaturesFor(eventID), 2)
}

func TestNoteEventMetadataFirstWriterWins(t *testing.T) {
	r := newTestRecord(t, devSigners(), 2)
	eventID := types.EventID(9)

	r.NoteEventMetadata(eventID, []byte("first"), [32]byte{1}, types.ChainEthereum)
	r.NoteEventMetadata(eventID, []byte("second"), [32]byte{2}, types.ChainXRPL)

	meta := r.EventMetadata(eventID)
	require.NotNil(t, meta)
	assert.Equal(t, []byte("first"), meta.Data.Bytes())
	assert.Equal(t, [32]byte{1}, meta.BlockHash)
	assert.Equal(t, types.ChainEthereum, meta.ChainID)
}

func TestSignaturesForUnknownEvent(t *testing.T) {
	r := newTestRecord(t, devSigners(), 2)
	assert.Empty(t, r.SignaturesFor(12345))
}

func TestProcessUnverifiedWitnessesDuplicates(t *testing.T) {
	privKeys := devSigners()
	r := newTestRecord(t, privKeys, 2)
	eventID := types.EventID(5)
	data := ethData()

	// the same witness buffered twice: replay verifies one copy, drops the
	// duplicate, and the failure does not abort the batch
	w := createWitness(t, privKeys[0], eventID, types.ChainEthereum, data)
	for i := 0; i < 2; i++ {
		status, err := r.NoteEventWitness(w)
		require.NoError(t, err)
		require.Equal(t, StatusDigestUnverified, status)
	}
	other := createWitness(t, privKeys[1], eventID, types.ChainEthereum, data)
	_, err := r.NoteEventWitness(other)
	require.NoError(t, err)

	r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)
	r.ProcessUnverifiedWitnesses(eventID)

	require.Len(t, r.SignaturesFor(eventID), 2)
	assert.NotContains(t, r.unverified, eventID)
}

// Compact sequence should leave at least the lowest two events.
func TestCompactSequence(t *testing.T) {
	assert.Equal(t, []types.EventID{1}, compactSequence([]types.EventID{1}))
	assert.Equal(t, []types.EventID{0, 1}, compactSequence([]types.EventID{0, 1}))
	assert.Equal(t, []types.EventID{1, 2}, compactSequence([]types.EventID{0, 1, 2}))
	assert.Equal(t, []types.EventID{4, 5}, compactSequence([]types.EventID{1, 2, 3, 4, 5}))
	assert.Equal(t, []types.EventID{3, 8, 9}, compactSequence([]types.EventID{1, 2, 3, 8, 9}))
	assert.Equal(t, []types.EventID{4, 9}, compactSequence([]types.EventID{1, 2, 3, 4, 9}))
}

// For any witness delivery permutation, SignaturesFor is sorted by ascending
// authority index.
func TestSignaturesForSortedProperty(t *testing.T) {
	privKeys := []secp256k1.PrivKey{
		secp256k1.GenPrivKeySecp256k1([]byte("v0")),
		secp256k1.GenPrivKeySecp256k1([]byte("v1")),
		secp256k1.GenPrivKeySecp256k1([]byte("v2")),
		secp256k1.GenPrivKeySecp256k1([]byte("v3")),
		secp256k1.GenPrivKeySecp256k1([]byte("v4")),
	}
	data := ethData()

	rapid.Check(t, func(rt *rapid.T) {
		r := NewRecord(log.NewNopLogger(), digest.ChainSet{})
		r.SetValidators(
			types.NewValidatorSet(pubKeys(privKeys), testValidatorSetID, 3),
			types.EmptyValidatorSet(),
		)
		eventID := types.EventID(5)
		r.NoteEventMetadata(eventID, data, [32]byte{}, types.ChainEthereum)

		// draw an arrival permutation of a random validator subset
		remaining := make([]int, len(privKeys))
		for i := range remaining {
			remaining[i] = i
		}
		count := rapid.IntRange(0, len(privKeys)).Draw(rt, "count").(int)
		noted := 0
		for i := 0; i < count; i++ {
			pick := rapid.IntRange(0, len(remaining)-1).Draw(rt, "pick").(int)
			validator := remaining[pick]
			remaining = append(remaining[:pick], remaining[pick+1:]...)

			w := createWitness(t, privKeys[validator], eventID, types.ChainEthereum, data)
			status, err := r.NoteEventWitness(w)
			if err != nil {
				rt.Fatalf("unexpected witness error: %v", err)
			}
			if status != StatusVerified {
				rt.Fatalf("unexpected status: %v", status)
			}
			noted++
		}

		sigs := r.SignaturesFor(eventID)
		if len(sigs) != noted {
			rt.Fatalf("got %d signatures, noted %d", len(sigs), noted)
		}
		for i := 1; i < len(sigs); i++ {
			if sigs[i-1].AuthorityIndex >= sigs[i].AuthorityIndex {
				rt.Fatalf("signatures out of order: %d before %d",
					sigs[i-1].AuthorityIndex, sigs[i].AuthorityIndex)
			}
		}
	})
}
