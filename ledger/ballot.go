package ledger

// Ballot pipeline (component C6): prepareBallots → prepareBatch → proofBatch
// (CPU-bound, off the I/O dispatcher) → prepareVoteBatch → voteBatch, with
// at-least-once retry on partial ack (spec §4.6). Grounded on
// bat_client.cc's prepareBallots/prepareBatch/proofBatch/prepareVoteBatch/
// voteBatch chain, restructured as methods on BallotPipeline driven by two
// re-armable timers the embedder owns (spec §5).

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// BallotPipeline drives the ballot lifecycle for one wallet's ballots and
// transactions.
type BallotPipeline struct {
	state            *State
	operator         *OperatorClient
	oracle           CredentialOracle
	dispatcher       *Dispatcher
	voteBatchSize    int
	log              *logrus.Entry
	prepareBatchOnce bool // true while a prepareBatch round trip is in flight

	onReconcileComplete func(Transaction)
}

// OnReconcileComplete registers fn to run once per transaction, exactly when
// every ballot it produced has been cast and acknowledged by the operator
// (spec §4.5 OnReconcileCompleteSuccess). Optional; nil by default.
func (p *BallotPipeline) OnReconcileComplete(fn func(Transaction)) {
	p.onReconcileComplete = fn
}

// NewBallotPipeline builds a BallotPipeline. voteBatchSize is the
// VOTE_BATCH_SIZE constant from spec §4.6 (typically 10).
func NewBallotPipeline(state *State, operator *OperatorClient, oracle CredentialOracle, dispatcher *Dispatcher, voteBatchSize int, log *logrus.Entry) *BallotPipeline {
	if voteBatchSize <= 0 {
		voteBatchSize = 10
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BallotPipeline{state: state, operator: operator, oracle: oracle, dispatcher: dispatcher, voteBatchSize: voteBatchSize, log: log}
}

// PrepareBallots scans ballots newest-to-oldest for one whose prepare_ballot
// is still empty and whose viewing id matches a known transaction, and
// launches prepareBatch for it. Only one request is ever in flight (spec
// §4.6: "Only one in flight at a time").
func (p *BallotPipeline) PrepareBallots(ctx context.Context) {
	if p.prepareBatchOnce {
		return
	}
	ballots := p.state.Ballots()
	for _, b := range ballots {
		if b.PrepareBallot != "" {
			continue
		}
		if _, ok := p.state.GetTransaction(b.ViewingID); !ok {
			continue
		}
		p.prepareBatchOnce = true
		p.prepareBatch(ctx, b)
		return
	}
}

func (p *BallotPipeline) prepareBatch(ctx context.Context, ballot Ballot) {
	tx, ok := p.state.GetTransaction(ballot.ViewingID)
	if !ok {
		p.prepareBatchOnce = false
		return
	}
	p.operator.PrepareBatch(ctx, tx.AnonizeViewingID, func(docs []json.RawMessage, err error) {
		p.prepareBatchOnce = false
		if err != nil {
			p.log.WithError(err).Warn("prepare batch failed, will retry next tick")
			return
		}
		p.prepareBatchCallback(docs)
	})
}

// prepareBatchCallback attaches each error-free surveyor document to the
// ballot matching its surveyorId, then schedules proofBatch on the worker
// pool (spec §4.6: "schedule proofBatch on a worker, not the I/O
// dispatcher").
func (p *BallotPipeline) prepareBatchCallback(docs []json.RawMessage) {
	var toProve []Ballot
	for _, raw := range docs {
		var doc surveyorDocument
		if err := json.Unmarshal(raw, &doc); err != nil || doc.Error != "" {
			continue
		}
		for _, b := range p.state.Ballots() {
			if b.SurveyorID != doc.SurveyorID {
				continue
			}
			b.PrepareBallot = string(raw)
			p.state.UpdateBallot(b)
			toProve = append(toProve, b)
		}
	}
	if len(toProve) == 0 {
		return
	}
	p.dispatcher.RunIOTask(
		func() (any, error) { return p.proofBatch(toProve), nil },
		func(result any, _ error) { p.proofBatchCallback(result.([]Ballot)) },
	)
}

// proofBatch runs on the worker pool: for each ballot, parse its attached
// surveyor document and call submit_message to obtain a blinded proof,
// storing "" on oracle rejection (spec §4.6).
func (p *BallotPipeline) proofBatch(ballots []Ballot) []Ballot {
	out := make([]Ballot, len(ballots))
	for i, b := range ballots {
		var doc surveyorDocument
		if err := json.Unmarshal([]byte(b.PrepareBallot), &doc); err != nil {
			out[i] = b
			continue
		}
		tx, ok := p.state.GetTransaction(b.ViewingID)
		if !ok {
			out[i] = b
			continue
		}
		sig := signaturePart(doc.Signature)
		msg, err := json.Marshal(map[string]string{"publisher": b.PublisherID})
		if err != nil {
			out[i] = b
			continue
		}
		proof, err := p.oracle.SubmitMessage(string(msg), tx.MasterUserToken, tx.RegistrarVK, sig, doc.SurveyorID, doc.VK)
		if err != nil {
			proof = ""
		}
		b.ProofBallot = proof
		out[i] = b
	}
	return out
}

// signaturePart extracts the substring after the surveyor signature's first
// comma, trimming one leading space (spec §4.6 proofBatch).
func signaturePart(signature string) string {
	idx := strings.IndexByte(signature, ',')
	if idx < 0 {
		return ""
	}
	rest := signature[idx+1:]
	return strings.TrimPrefix(rest, " ")
}

func (p *BallotPipeline) proofBatchCallback(ballots []Ballot) {
	for _, b := range ballots {
		p.state.UpdateBallot(b)
	}
}

// PrepareVoteBatch moves every fully-proved ballot (non-empty prepare_ballot
// and proof_ballot) from the ballots list into the per-publisher batch-vote
// list, incrementing the owning transaction's per-publisher offset (spec
// §4.6 prepareVoteBatch).
func (p *BallotPipeline) PrepareVoteBatch() {
	for _, b := range p.state.Ballots() {
		if b.PrepareBallot == "" || b.ProofBallot == "" {
			continue
		}
		tx, ok := p.state.GetTransaction(b.ViewingID)
		if !ok {
			continue
		}
		if tx.Buckets == nil {
			tx.Buckets = make(map[string]*TransactionBucket)
		}
		bucket, ok := tx.Buckets[b.PublisherID]
		if !ok {
			bucket = &TransactionBucket{}
			tx.Buckets[b.PublisherID] = bucket
		}
		bucket.Offset++
		p.state.UpdateTransaction(tx)

		p.state.AppendVote(b.PublisherID, VoteEntry{SurveyorID: b.SurveyorID, Proof: b.ProofBallot})
		p.state.RemoveBallot(b.SurveyorID, b.ViewingID)
	}
}

// VoteBatch submits up to voteBatchSize entries from the head of the
// batch-vote list (spec §4.6 voteBatch). No-op if the list is empty.
func (p *BallotPipeline) VoteBatch(ctx context.Context) {
	head, ok := p.state.FirstBatchVote()
	if !ok {
		return
	}
	entries := head.Entries
	if len(entries) > p.voteBatchSize {
		entries = entries[:p.voteBatchSize]
	}
	batch := make([]VoteBatchRequestEl, len(entries))
	for i, e := range entries {
		batch[i] = VoteBatchRequestEl{SurveyorID: e.SurveyorID, Proof: e.Proof}
	}
	p.operator.VoteBatch(ctx, VoteBatchRequest{Publisher: head.PublisherID, Batch: batch}, func(resp []VoteBatchResponseEl, err error) {
		if err != nil {
			p.log.WithError(err).Warn("vote batch failed, will retry next tick")
			return
		}
		p.voteBatchCallback(head.PublisherID, len(entries), resp)
	})
}

// voteBatchCallback removes every acknowledged surveyor id from the head of
// the matching publisher's bucket (spec §4.6: "entries not acknowledged
// remain in the bucket and are retried on the next tick" — at-least-once
// submission).
func (p *BallotPipeline) voteBatchCallback(publisherID string, submitted int, resp []VoteBatchResponseEl) {
	acked := make(map[string]bool, len(resp))
	for _, e := range resp {
		if e.Error == "" {
			acked[e.SurveyorID] = true
		}
	}
	p.state.AckBatchVotes(publisherID, acked)
	p.checkReconcileCompletions()
}

// checkReconcileCompletions fires OnReconcileCompleteSuccess for every
// transaction whose ballots have all been cast and acknowledged but hasn't
// been reported yet (spec §4.5). Idempotent: Transaction.Reported makes each
// transaction eligible exactly once.
func (p *BallotPipeline) checkReconcileCompletions() {
	for _, tx := range p.state.Transactions() {
		if tx.Reported || !p.state.TransactionFullyVoted(tx) {
			continue
		}
		tx.Reported = true
		p.state.UpdateTransaction(tx)
		if p.onReconcileComplete != nil {
			p.onReconcileComplete(tx)
		} else {
			RecordReconcileCompletion(p.state, tx, time.Now())
		}
	}
}
