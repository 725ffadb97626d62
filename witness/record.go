package witness

import (
	"bytes"
	"errors"
	"sort"

	"github.com/futureversecom/ethy/crypto"
	"github.com/futureversecom/ethy/digest"
	"github.com/futureversecom/ethy/libs/log"
	"github.com/futureversecom/ethy/types"
)

// Status after processing a witness.
type Status uint8

const (
	// StatusDigestUnverified means the witness was buffered: event metadata
	// is not yet known locally so its digest could not be checked.
	StatusDigestUnverified Status = iota
	// StatusVerified means the witness passed all checks and was recorded.
	StatusVerified
)

func (s Status) String() string {
	switch s {
	case StatusDigestUnverified:
		return "digest-unverified"
	case StatusVerified:
		return "verified"
	default:
		return "unknown"
	}
}

var (
	// ErrCompletedEvent means the witness is for an already completed event.
	ErrCompletedEvent = errors.New("witness for completed event")
	// ErrDuplicateWitness means this authority already voted for the event.
	ErrDuplicateWitness = errors.New("duplicate witness")
	// ErrMismatchedDigest means the claimed digest disagrees with the
	// locally computed canonical digest.
	ErrMismatchedDigest = errors.New("mismatched witness digest")
	// ErrDigestCreationFailed means the local digest computation failed.
	ErrDigestCreationFailed = errors.New("witness digest creation failed")
	// ErrSignatureVerification means the cryptographic check failed.
	ErrSignatureVerification = errors.New("witness signature verification failed")
	// ErrUnknownAuthority means the key is absent from the validator set.
	ErrUnknownAuthority = errors.New("unknown authority")
)

// Record tracks witnesses from bridge validators and decides when enough
// independent signatures exist to form a multi-signature proof.
//
// Record is the single stateful owner of all per-event aggregation state.
// It performs no locking and no I/O; all methods are synchronous and the
// caller must supply mutual exclusion if sharing it across goroutines.
// Expired/complete witnesses are handled at the gossip layer.
type Record struct {
	logger  log.Logger
	digests digest.Generator

	// validators holds the secp256k1 session keys of all active validators,
	// ordered. Authority indices always resolve against this set.
	validators *types.ValidatorSet
	// xrplValidators is the subset authorized to sign for XRPL.
	xrplValidators *types.ValidatorSet
	// eventMeta holds metadata about an event, created lazily.
	eventMeta map[types.EventID]*types.EventMetadata
	// witnesses records verified signatures per event, ascending authority
	// index.
	witnesses map[types.EventID][]types.AuthoritySignature
	// hasWitnessed tracks which authorities voted per event, keys sorted for
	// binary-search duplicate detection.
	hasWitnessed map[types.EventID][]crypto.PubKey
	// unverified buffers witnesses that arrived before event metadata.
	unverified map[types.EventID][]*types.Witness
	// completedEvents is the sorted, run-length compacted watermark of
	// finished event ids.
	completedEvents []types.EventID
}

// NewRecord returns an empty Record using the given digest generator.
func NewRecord(logger log.Logger, digests digest.Generator) *Record {
	return &Record{
		logger:         logger,
		digests:        digests,
		validators:     types.EmptyValidatorSet(),
		xrplValidators: types.EmptyValidatorSet(),
		eventMeta:      make(map[types.EventID]*types.EventMetadata),
		witnesses:      make(map[types.EventID][]types.AuthoritySignature),
		hasWitnessed:   make(map[types.EventID][]crypto.PubKey),
		unverified:     make(map[types.EventID][]*types.Witness),
	}
}

// SetValidators atomically replaces the active validator set and the XRPL
// subset.
//
// No subset validation is performed; callers must keep the two consistent.
// Signature indices recorded for in-progress events are not recomputed, so
// reordering a set mid-flight causes index drift for those events.
func (r *Record) SetValidators(validators, xrplValidators *types.ValidatorSet) {
	r.validators = validators
	r.xrplValidators = xrplValidators
}

// NoteEventMetadata records metadata for an event. Metadata must exist
// before witnesses for the event can be verified.
//
// The first write wins; duplicate calls are no-ops. Callers should follow up
// with ProcessUnverifiedWitnesses to promote any buffered witnesses.
func (r *Record) NoteEventMetadata(eventID types.EventID, data []byte, blockHash [32]byte, chainID types.ChainID) {
	if _, ok := r.eventMeta[eventID]; ok {
		return
	}
	r.eventMeta[eventID] = &types.EventMetadata{
		ChainID:   chainID,
		Data:      data,
		BlockHash: blockHash,
	}
}

// NoteEventWitness notes a witness if we haven't seen it before.
//
// Returns StatusVerified if the witness was checked and recorded,
// StatusDigestUnverified if it was buffered pending event metadata, or one
// of the Err... sentinels (witnesses failing ValidateBasic return its typed
// errors). All failures are local and non-fatal; malformed or adversarial
// input never panics.
func (r *Record) NoteEventWitness(w *types.Witness) (Status, error) {
	// Witnesses come from remote peers; reject malformed ones before any
	// field is dereferenced.
	if err := w.ValidateBasic(); err != nil {
		return 0, err
	}

	// Reject witnesses for completed events. An id at or below the lowest
	// watermark entry is also complete, but only once the watermark holds
	// more than one entry: with a single entry the lowest could be event 1
	// completed before event 0 arrived.
	if _, ok := searchEventID(r.completedEvents, w.EventID); ok {
		return 0, ErrCompletedEvent
	}
	if len(r.completedEvents) > 1 && w.EventID <= r.completedEvents[0] {
		return 0, ErrCompletedEvent
	}

	if seen := r.hasWitnessed[w.EventID]; len(seen) > 0 {
		if _, ok := searchKey(seen, w.AuthorityKey); ok {
			r.logger.Debug("witness previously seen", "event_id", w.EventID)
			return 0, ErrDuplicateWitness
		}
	}

	// Event metadata may not be available at this point, in which case we
	// can't verify the witness signed the correct digest yet (i.e. the
	// validator didn't sign a different message). Buffer it for later.
	meta, ok := r.eventMeta[w.EventID]
	if !ok {
		r.logger.Debug("witness recorded (digest unverified)",
			"event_id", w.EventID, "authority", log.Hex(w.AuthorityKey.Bytes()))
		r.unverified[w.EventID] = append(r.unverified[w.EventID], w)
		return StatusDigestUnverified, nil
	}

	// Recompute the canonical digest for this authority. XRPL digests fold
	// the signer key into the hash, so the comparison is per authority.
	localDigest, err := r.digests.Digest(meta.ChainID, meta.Data, w.AuthorityKey)
	if err != nil {
		r.logger.Error("failed to compute witness digest",
			"event_id", w.EventID, "err", err)
		return 0, ErrDigestCreationFailed
	}
	if localDigest != w.Digest {
		r.logger.Error("witness has bad digest",
			"event_id", w.EventID, "authority", log.Hex(w.AuthorityKey.Bytes()))
		return 0, ErrMismatchedDigest
	}
	if !w.AuthorityKey.VerifySignature(localDigest[:], w.Signature) {
		r.logger.Error("witness digest signature verification failed",
			"event_id", w.EventID, "authority", log.Hex(w.AuthorityKey.Bytes()))
		return 0, ErrSignatureVerification
	}

	// Convert the authority's public key into its ordered index. Indices
	// always resolve against the full (Ethereum) set, XRPL signers included;
	// this keeps the aggregated proof verifiable by position.
	authorityIndex, ok := r.validators.AuthorityIndex(w.AuthorityKey)
	if !ok {
		return 0, ErrUnknownAuthority
	}

	r.witnesses[w.EventID] = insertSignature(r.witnesses[w.EventID], types.AuthoritySignature{
		AuthorityIndex: authorityIndex,
		Signature:      w.Signature,
	})
	r.hasWitnessed[w.EventID] = insertKey(r.hasWitnessed[w.EventID], w.AuthorityKey)

	r.logger.Debug("witness recorded",
		"event_id", w.EventID, "authority", log.Hex(w.AuthorityKey.Bytes()))
	return StatusVerified, nil
}

// ProcessUnverifiedWitnesses replays any buffered witnesses for eventID
// through NoteEventWitness.
//
// Buffered witnesses exist when metadata for an event was unknown locally at
// the time the witnesses were received from the network. Each replay fails
// independently; failures are logged and never propagated.
func (r *Record) ProcessUnverifiedWitnesses(eventID types.EventID) {
	buffered, ok := r.unverified[eventID]
	if !ok {
		return
	}
	delete(r.unverified, eventID)
	for _, w := range buffered {
		if _, err := r.NoteEventWitness(w); err != nil {
			r.logger.Error("failed to note buffered witness",
				"event_id", eventID, "authority", log.Hex(w.AuthorityKey.Bytes()), "err", err)
		}
	}
}

// MarkComplete removes all state for an event (typically after its proof
// achieved consensus and was handed off) and adds it to the completed-event
// watermark.
func (r *Record) MarkComplete(eventID types.EventID) {
	delete(r.witnesses, eventID)
	delete(r.eventMeta, eventID)
	delete(r.hasWitnessed, eventID)
	delete(r.unverified, eventID)

	if idx, ok := searchEventID(r.completedEvents, eventID); !ok {
		r.completedEvents = append(r.completedEvents, 0)
		copy(r.completedEvents[idx+1:], r.completedEvents[idx:])
		r.completedEvents[idx] = eventID
		r.completedEvents = compactSequence(r.completedEvents)
	}
}

// HasConsensus reports whether the event has at least the proof threshold of
// verified signatures for the given chain. Pure query, no side effects.
//
// For Ethereum every stored signature counts. Only a subset of validators
// are authorized XRPL signers, so for XRPL only signatures whose authority
// is a member of the XRPL set count, even though all witnesses are tracked.
func (r *Record) HasConsensus(eventID types.EventID, chainID types.ChainID) bool {
	var proofThreshold, count int

	switch chainID {
	case types.ChainXRPL:
		proofThreshold = int(r.xrplValidators.ProofThreshold)
		for _, sig := range r.witnesses[eventID] {
			key := r.validators.GetByIndex(sig.AuthorityIndex)
			if key != nil && r.xrplValidators.HasAuthority(key) {
				count++
			}
		}
	default:
		proofThreshold = int(r.validators.ProofThreshold)
		count = len(r.witnesses[eventID])
	}

	r.logger.Debug("event support", "event_id", eventID, "witnesses", count)
	return count >= proofThreshold
}

// SignaturesFor returns all known signatures for eventID, ascending by
// authority index. Unknown ids return an empty slice, never an error; the
// result is directly usable in an on-chain multi-signature proof payload.
func (r *Record) SignaturesFor(eventID types.EventID) []types.AuthoritySignature {
	return append([]types.AuthoritySignature(nil), r.witnesses[eventID]...)
}

// EventMetadata returns the metadata noted for eventID, or nil.
func (r *Record) EventMetadata(eventID types.EventID) *types.EventMetadata {
	return r.eventMeta[eventID]
}

// compactSequence compacts a sorted slice of event ids by collapsing the
// longest prefix of consecutive ids to its last element:
// [a, a+1, .., k, x, ..] becomes [k, x, ..] when x is not contiguous with k.
//
// At least the two lowest ids are always kept so the first two events (0, 1)
// completing in the wrong order are both still recognized as complete.
func compactSequence(completed []types.EventID) []types.EventID {
	if len(completed) < 3 {
		return completed
	}

	watermarkIdx := 0
	for i := 0; i < len(completed)-2; i++ {
		if completed[i]+1 != completed[i+1] {
			break
		}
		watermarkIdx = i + 1
	}

	return completed[watermarkIdx:]
}

// searchEventID locates id in a sorted slice, returning its index, or the
// insertion point if absent.
func searchEventID(ids []types.EventID, id types.EventID) (int, bool) {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i, i < len(ids) && ids[i] == id
}

// searchKey locates key in a byte-wise sorted key slice.
func searchKey(keys []crypto.PubKey, key crypto.PubKey) (int, bool) {
	i := sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i].Bytes(), key.Bytes()) >= 0
	})
	return i, i < len(keys) && keys[i].Equals(key)
}

// insertKey inserts key into a byte-wise sorted key slice, keeping order.
// No-op if already present.
func insertKey(keys []crypto.PubKey, key crypto.PubKey) []crypto.PubKey {
	idx, ok := searchKey(keys, key)
	if ok {
		return keys
	}
	keys = append(keys, nil)
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = key
	return keys
}

// insertSignature inserts sig into an index-sorted signature slice, keeping
// order. No-op if the index is already present.
func insertSignature(sigs []types.AuthoritySignature, sig types.AuthoritySignature) []types.AuthoritySignature {
	idx := sort.Search(len(sigs), func(i int) bool {
		return sigs[i].AuthorityIndex >= sig.AuthorityIndex
	})
	if idx < len(sigs) && sigs[idx].AuthorityIndex == sig.AuthorityIndex {
		return sigs
	}
	sigs = append(sigs, types.AuthoritySignature{})
	copy(sigs[idx+1:], sigs[idx:])
	sigs[idx] = sig
	return sigs
}
