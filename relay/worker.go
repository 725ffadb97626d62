package relay

import (
	"context"
	"sync"

	"github.com/futureversecom/ethy/digest"
	"github.com/futureversecom/ethy/gossip"
	"github.com/futureversecom/ethy/keystore"
	"github.com/futureversecom/ethy/libs/log"
	"github.com/futureversecom/ethy/store"
	"github.com/futureversecom/ethy/types"
	"github.com/futureversecom/ethy/witness"
)

// subscriberBufferSize is the proof notification channel capacity per
// subscriber. Slow subscribers drop proofs rather than stall the worker;
// dropped proofs remain readable from the store.
const subscriberBufferSize = 64

// ValidatorSetChange announces a new active validator set and its XRPL
// subset, typically at a session boundary.
type ValidatorSetChange struct {
	Validators     *types.ValidatorSet
	XRPLValidators *types.ValidatorSet
}

// WorkerParams collects the collaborators a Worker needs.
type WorkerParams struct {
	Logger   log.Logger
	Digests  digest.Generator
	Keystore *keystore.Keystore
	Tracker  *gossip.Tracker
	Store    *store.Store
	Metrics  *Metrics
	// Broadcast forwards a first-seen witness to the gossip layer. May be
	// nil for a listen-only relay.
	Broadcast func(*types.Witness)
}

// Worker drives the witness aggregation protocol.
//
// It reacts to three inputs: proof requests extracted from finalized blocks,
// validator set changes, and witnesses delivered by gossip. When an event
// accumulates a threshold of verified signatures the worker assembles the
// proof, persists it, notifies subscribers and releases the event's memory.
//
// All state is owned by the worker's single run loop; the handlers must not
// be called concurrently with Run.
type Worker struct {
	logger    log.Logger
	digests   digest.Generator
	keystore  *keystore.Keystore
	tracker   *gossip.Tracker
	store     *store.Store
	metrics   *Metrics
	broadcast func(*types.Witness)

	record *witness.Record

	validatorSet *types.ValidatorSet
	// finalizedBlock is the best finalized block number seen via proof
	// requests, used for the gossip live window.
	finalizedBlock uint64

	subMtx sync.Mutex
	subs   []chan *types.EventProof
}

// NewWorker returns a Worker ready to Run.
func NewWorker(params WorkerParams) *Worker {
	if params.Metrics == nil {
		params.Metrics = NopMetrics()
	}
	return &Worker{
		logger:       params.Logger,
		digests:      params.Digests,
		keystore:     params.Keystore,
		tracker:      params.Tracker,
		store:        params.Store,
		metrics:      params.Metrics,
		broadcast:    params.Broadcast,
		record:       witness.NewRecord(params.Logger, params.Digests),
		validatorSet: types.EmptyValidatorSet(),
	}
}

// Subscribe registers for proof notifications. The channel receives every
// proof assembled after the call; it is never closed.
func (w *Worker) Subscribe() <-chan *types.EventProof {
	w.subMtx.Lock()
	defer w.subMtx.Unlock()
	ch := make(chan *types.EventProof, subscriberBufferSize)
	w.subs = append(w.subs, ch)
	return ch
}

// Run processes inputs until ctx is canceled. Exactly one Run may be active.
func (w *Worker) Run(
	ctx context.Context,
	requests <-chan types.ProofRequest,
	witnesses <-chan *types.Witness,
	valsetChanges <-chan ValidatorSetChange,
) error {
	w.logger.Debug("starting relay worker")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-valsetChanges:
			w.HandleValidatorSetChange(change)
		case req := <-requests:
			w.HandleProofRequest(req)
		case wit := <-witnesses:
			w.HandleWitness(wit)
		}
	}
}

// HandleValidatorSetChange installs a new active validator set.
//
// A change with the same set id as the current one is ignored, matching the
// session module which only signals at era boundaries.
func (w *Worker) HandleValidatorSetChange(change ValidatorSetChange) {
	active := change.Validators
	if active.IsNilOrEmpty() {
		return
	}
	if !w.validatorSet.IsNilOrEmpty() && active.ID == w.validatorSet.ID {
		return
	}

	w.logger.Info("new active validator set",
		"id", active.ID, "size", active.Size(), "old_id", w.validatorSet.ID)
	w.validatorSet = active
	w.record.SetValidators(active, change.XRPLValidators)
	w.tracker.SetActiveValidators(active.Validators)
	w.metrics.ValidatorSetID.Set(float64(active.ID))
}

// HandleProofRequest notes a proof request from a finalized block. If the
// local key is an active authority the request is signed and the resulting
// witness broadcast; either way the event's metadata becomes available for
// verifying buffered and future witnesses.
func (w *Worker) HandleProofRequest(req types.ProofRequest) {
	if req.BlockNumber > w.finalizedBlock {
		w.finalizedBlock = req.BlockNumber
	}

	w.record.NoteEventMetadata(req.EventID, req.Data, req.Block, req.ChainID)

	authorityKey, active := w.keystore.AuthorityKey(w.validatorSet.Validators)
	if !active {
		w.logger.Debug("no active authority key, noting event passively",
			"event_id", req.EventID)
		w.tryMakeProof(req.EventID)
		return
	}

	eventDigest, err := w.digests.Digest(req.ChainID, req.Data, authorityKey)
	if err != nil {
		w.logger.Error("failed to make event digest",
			"event_id", req.EventID, "err", err)
		return
	}
	signature, err := w.keystore.SignDigest(eventDigest)
	if err != nil {
		w.logger.Error("failed to sign witness",
			"event_id", req.EventID, "err", err)
		return
	}

	wit := &types.Witness{
		Digest:         eventDigest,
		ChainID:        req.ChainID,
		EventID:        req.EventID,
		ValidatorSetID: w.validatorSet.ID,
		AuthorityKey:   authorityKey,
		Signature:      signature,
		BlockNumber:    req.BlockNumber,
	}

	w.metrics.WitnessesSent.Add(1)
	w.logger.Debug("signed witness", "event_id", req.EventID, "set_id", w.validatorSet.ID)

	if _, err := w.record.NoteEventWitness(wit); err != nil {
		w.logger.Error("failed to note own witness", "event_id", req.EventID, "err", err)
	}
	if w.broadcast != nil {
		w.broadcast(wit)
	}
	w.tryMakeProof(req.EventID)
}

// HandleWitness notes an individual witness received from gossip.
func (w *Worker) HandleWitness(wit *types.Witness) {
	w.metrics.WitnessesReceived.Add(1)

	if w.tracker.Validate(wit, w.finalizedBlock) == gossip.Discard {
		return
	}

	if _, err := w.record.NoteEventWitness(wit); err != nil {
		w.logger.Debug("failed to note witness",
			"event_id", wit.EventID, "err", err)
		return
	}

	// only share first-seen witnesses
	if w.broadcast != nil {
		w.broadcast(wit)
	}
	w.tryMakeProof(wit.EventID)
}

// tryMakeProof assembles, stores and publishes an event proof if metadata is
// known and enough corroborating witnesses exist, then prunes the event.
func (w *Worker) tryMakeProof(eventID types.EventID) {
	meta := w.record.EventMetadata(eventID)
	if meta == nil {
		w.logger.Debug("missing event metadata, can't make proof yet", "event_id", eventID)
		return
	}

	// buffered witnesses may become verifiable now that metadata is known
	w.record.ProcessUnverifiedWitnesses(eventID)

	// safety check, a threshold below a simple majority makes no sense
	if int(w.validatorSet.ProofThreshold) < w.validatorSet.Size()/2 {
		w.logger.Error("proof threshold too low",
			"threshold", w.validatorSet.ProofThreshold, "validators", w.validatorSet.Size())
		return
	}

	if !w.record.HasConsensus(eventID, meta.ChainID) {
		w.logger.Debug("no consensus for event, can't make proof yet", "event_id", eventID)
		return
	}

	signatures := w.record.SignaturesFor(eventID)
	w.logger.Info("generating proof for event",
		"event_id", eventID, "signatures", len(signatures), "set_id", w.validatorSet.ID)

	// the proof carries the signer-independent digest of the event
	proofDigest, err := w.digests.EventDigest(meta.ChainID, meta.Data)
	if err != nil {
		w.logger.Error("failed to make proof digest", "event_id", eventID, "err", err)
		return
	}

	proof := &types.EventProof{
		Digest:         proofDigest,
		EventID:        eventID,
		ValidatorSetID: w.validatorSet.ID,
		Block:          meta.BlockHash,
		Signatures:     signatures,
	}

	if err := w.store.SaveProof(meta.ChainID, proof); err != nil {
		// a warning for now: rounds may be concluded more than once across
		// restarts, and a stored copy from an earlier conclusion still serves
		w.logger.Error("failed to store proof", "event_id", eventID, "err", err)
	}
	w.metrics.ProofsGenerated.Add(1)
	w.notify(proof)

	w.record.MarkComplete(eventID)
	w.tracker.MarkComplete(eventID)
}

func (w *Worker) notify(proof *types.EventProof) {
	w.subMtx.Lock()
	defer w.subMtx.Unlock()
	for _, sub := range w.subs {
		select {
		case sub <- proof:
		default:
			w.logger.Error("dropping proof notification, slow subscriber",
				"event_id", proof.EventID)
		}
	}
}
