package gossip

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/futureversecom/ethy/crypto"
	"github.com/futureversecom/ethy/libs/log"
	"github.com/futureversecom/ethy/types"
)

const (
	// MaxCompleteEventCache is the number of recently completed events kept
	// in memory. Completed events must stay cached until they fall out of
	// the live window, otherwise late copies would be re-admitted.
	MaxCompleteEventCache = 500

	// RebroadcastAfter is the interval between witness rebroadcasts.
	RebroadcastAfter = 3 * time.Minute

	// LiveWindow is the number of blocks within which a witness is expected
	// to reach a terminal state. Witnesses older than this relative to the
	// latest finalized block are expired.
	LiveWindow = 90
)

// Decision is the admission verdict for a gossiped witness message.
type Decision uint8

const (
	// ProcessAndKeep: first-seen valid witness, hand to the engine and keep
	// it available for relay to peers.
	ProcessAndKeep Decision = iota
	// Discard: known, expired, or invalid witness, drop it.
	Discard
)

// Tracker is the gossip-side gatekeeper for witness messages.
//
// It performs cheap stateless admission checks before a witness reaches the
// aggregation engine: sender is an active validator, the signature matches
// the claimed digest, the event is still live and not yet complete, and the
// vote was not seen before. Unlike the engine it is safe for concurrent use,
// since the network layer calls it from its own goroutines.
type Tracker struct {
	logger log.Logger

	mtx sync.RWMutex
	// knownVotes tracks observed witness authorities per event, sorted.
	knownVotes map[types.EventID][]crypto.PubKey
	// completeEvents is a sorted, size-bounded list of recently completed
	// events.
	completeEvents []types.EventID
	// activeValidators are the session keys allowed to witness.
	activeValidators []crypto.PubKey
	// nextRebroadcast schedules the periodic witness re-gossip.
	nextRebroadcast time.Time
}

// NewTracker returns a Tracker admitting witnesses from activeValidators.
func NewTracker(logger log.Logger, activeValidators []crypto.PubKey) *Tracker {
	return &Tracker{
		logger:           logger,
		knownVotes:       make(map[types.EventID][]crypto.PubKey),
		activeValidators: activeValidators,
		nextRebroadcast:  time.Now().Add(RebroadcastAfter),
	}
}

// SetActiveValidators replaces the admitted validator keys.
func (tr *Tracker) SetActiveValidators(keys []crypto.PubKey) {
	tr.mtx.Lock()
	defer tr.mtx.Unlock()
	tr.activeValidators = keys
}

// Validate decides whether a gossiped witness should be processed.
// finalizedBlock is the latest locally finalized block number, used for the
// live window check.
func (tr *Tracker) Validate(w *types.Witness, finalizedBlock uint64) Decision {
	if err := w.ValidateBasic(); err != nil {
		tr.logger.Debug("discarding malformed witness", "err", err)
		return Discard
	}

	if finalizedBlock > w.BlockNumber && finalizedBlock-w.BlockNumber > LiveWindow {
		tr.logger.Debug("discarding witness outside live window",
			"event_id", w.EventID, "block_number", w.BlockNumber)
		return Discard
	}

	tr.mtx.RLock()
	active := tr.isActiveValidator(w.AuthorityKey)
	complete := tr.isComplete(w.EventID)
	known := tr.isKnownVote(w.EventID, w.AuthorityKey)
	tr.mtx.RUnlock()

	if complete {
		return Discard
	}
	if !active {
		tr.logger.Debug("discarding witness from inactive validator",
			"event_id", w.EventID, "authority", log.Hex(w.AuthorityKey.Bytes()))
		return Discard
	}
	if known {
		return Discard
	}

	// The signature is checked against the claimed digest only; whether that
	// digest is canonical for the event is the engine's job once metadata is
	// known.
	if !w.AuthorityKey.VerifySignature(w.Digest[:], w.Signature) {
		tr.logger.Debug("discarding witness with bad signature",
			"event_id", w.EventID, "authority", log.Hex(w.AuthorityKey.Bytes()))
		return Discard
	}

	tr.mtx.Lock()
	tr.noteVote(w.EventID, w.AuthorityKey)
	tr.mtx.Unlock()

	return ProcessAndKeep
}

// MarkComplete marks an event as complete, dropping its vote tracking and
// remembering it in the bounded completed-event cache.
func (tr *Tracker) MarkComplete(eventID types.EventID) {
	tr.mtx.Lock()
	defer tr.mtx.Unlock()

	delete(tr.knownVotes, eventID)

	if len(tr.completeEvents) >= MaxCompleteEventCache {
		tr.completeEvents = tr.completeEvents[1:]
	}
	idx := sort.Search(len(tr.completeEvents), func(i int) bool {
		return tr.completeEvents[i] >= eventID
	})
	if idx < len(tr.completeEvents) && tr.completeEvents[idx] == eventID {
		tr.logger.Error("double event complete", "event_id", eventID)
		return
	}
	tr.completeEvents = append(tr.completeEvents, 0)
	copy(tr.completeEvents[idx+1:], tr.completeEvents[idx:])
	tr.completeEvents[idx] = eventID
}

// IsComplete reports whether an event is in the completed cache.
func (tr *Tracker) IsComplete(eventID types.EventID) bool {
	tr.mtx.RLock()
	defer tr.mtx.RUnlock()
	return tr.isComplete(eventID)
}

// ShouldRebroadcast reports whether the periodic rebroadcast interval has
// elapsed, and if so resets it.
func (tr *Tracker) ShouldRebroadcast(now time.Time) bool {
	tr.mtx.Lock()
	defer tr.mtx.Unlock()
	if now.Before(tr.nextRebroadcast) {
		return false
	}
	tr.nextRebroadcast = now.Add(RebroadcastAfter)
	return true
}

func (tr *Tracker) isComplete(eventID types.EventID) bool {
	idx := sort.Search(len(tr.completeEvents), func(i int) bool {
		return tr.completeEvents[i] >= eventID
	})
	return idx < len(tr.completeEvents) && tr.completeEvents[idx] == eventID
}

func (tr *Tracker) isActiveValidator(key crypto.PubKey) bool {
	for _, v := range tr.activeValidators {
		if v.Equals(key) {
			return true
		}
	}
	return false
}

func (tr *Tracker) isKnownVote(eventID types.EventID, key crypto.PubKey) bool {
	seen := tr.knownVotes[eventID]
	idx := searchKey(seen, key)
	return idx < len(seen) && seen[idx].Equals(key)
}

func (tr *Tracker) noteVote(eventID types.EventID, key crypto.PubKey) {
	seen := tr.knownVotes[eventID]
	idx := searchKey(seen, key)
	if idx < len(seen) && seen[idx].Equals(key) {
		return
	}
	seen = append(seen, nil)
	copy(seen[idx+1:], seen[idx:])
	seen[idx] = key
	tr.knownVotes[eventID] = seen
}

func searchKey(keys []crypto.PubKey, key crypto.PubKey) int {
	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i].Bytes(), key.Bytes()) >= 0
	})
}
