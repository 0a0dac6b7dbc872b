package ledger

// State store façade (component C2): typed, synchronous accessors over a
// single persisted document. Every setter is total and atomic with respect
// to readers (a single sync.RWMutex stands in for the single-dispatcher
// discipline spec.md §5 describes; a multi-goroutine Go port still needs the
// lock the spec explicitly allows for "if a port uses real threads").
//
// Grounded on core/ledger.go's map-backed State/UTXO/TxPool fields plus its
// snapshot/WAL persistence split, simplified here to one JSON document since
// a wallet's reconcile bookkeeping is not a blockchain: no blocks, no
// consensus, just a document that must support atomic replace (spec §6).

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const stateSchemaVersion = 1

const stateDocumentKey = "ledger_state"

// Store is the persistent key-value collaborator the embedder provides
// (spec §6). NewState works against any implementation, including the
// in-memory MemStore used by tests and the CLI's default file-backed store.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// document is the single persisted object (spec §6): version-tagged for
// forward migration, stable key order via the struct's field order.
type document struct {
	SchemaVersion int `json:"schema_version"`

	Wallet  WalletInfo      `json:"wallet"`
	Persona PersonaIdentity `json:"persona"`

	Grant      *Grant           `json:"grant,omitempty"`
	Properties WalletProperties `json:"properties"`

	BootStamp      int64 `json:"boot_stamp"`
	ReconcileStamp int64 `json:"reconcile_stamp"`

	Reconciles   map[string]CurrentReconcile `json:"reconciles"`
	Transactions []Transaction               `json:"transactions"`
	Ballots      []Ballot                    `json:"ballots"`
	BatchVotes   []BatchVote                 `json:"batch_votes"`

	// AckedSurveyorIDs records every surveyor id the operator has
	// acknowledged via voteBatch, regardless of which transaction it
	// belonged to — used to detect when a transaction's ballots have all
	// been cast (spec §4.5 OnReconcileCompleteSuccess).
	AckedSurveyorIDs map[string]bool `json:"acked_surveyor_ids,omitempty"`
	// BalanceReports accumulates probi per monthly report bucket, keyed by
	// "year:month:type" (spec §4.5).
	BalanceReports map[string]string `json:"balance_reports,omitempty"`
	// ContributionInfo is the append-only per-publisher recurring-donation
	// ledger (spec §4.5: "one SaveContributionInfo row per publisher").
	ContributionInfo []ContributionInfoRow `json:"contribution_info,omitempty"`
}

func newDocument() document {
	return document{
		SchemaVersion:    stateSchemaVersion,
		Reconciles:       make(map[string]CurrentReconcile),
		AckedSurveyorIDs: make(map[string]bool),
		BalanceReports:   make(map[string]string),
	}
}

// State is the C2 façade. Zero value is not usable; use NewState.
type State struct {
	mu    sync.RWMutex
	store Store
	doc   document
}

// NewState loads (or initializes) the persisted document from store.
func NewState(store Store) (*State, error) {
	s := &State{store: store, doc: newDocument()}
	if raw, ok := store.Get(stateDocumentKey); ok {
		if err := json.Unmarshal(raw, &s.doc); err != nil {
			return nil, fmt.Errorf("state: decode persisted document: %w", err)
		}
		if s.doc.Reconciles == nil {
			s.doc.Reconciles = make(map[string]CurrentReconcile)
		}
		if s.doc.AckedSurveyorIDs == nil {
			s.doc.AckedSurveyorIDs = make(map[string]bool)
		}
		if s.doc.BalanceReports == nil {
			s.doc.BalanceReports = make(map[string]string)
		}
	}
	return s, nil
}

// persist serializes the current document and writes it back. Caller must
// hold mu (for writing).
func (s *State) persist() {
	raw, err := json.Marshal(s.doc)
	if err != nil {
		// The document is built entirely of this package's own types; a
		// marshal failure here means a programming error, not bad input.
		panic(fmt.Sprintf("state: marshal document: %v", err))
	}
	s.store.Set(stateDocumentKey, raw)
}

// --- WalletInfo -------------------------------------------------------

func (s *State) WalletInfo() WalletInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Wallet
}

func (s *State) SetWalletInfo(w WalletInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Wallet = w
	s.persist()
}

// --- PersonaIdentity ----------------------------------------------------

func (s *State) Persona() PersonaIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Persona
}

func (s *State) SetPersona(p PersonaIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Persona = p
	s.persist()
}

// --- Grant ---------------------------------------------------------------

func (s *State) Grant() *Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Grant
}

func (s *State) SetGrant(g *Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Grant = g
	s.persist()
}

// --- WalletProperties ----------------------------------------------------

func (s *State) WalletProperties() WalletProperties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Properties
}

func (s *State) SetWalletProperties(p WalletProperties) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.LastRefreshedAt = time.Now()
	s.doc.Properties = p
	s.persist()
}

// --- Timestamps ------------------------------------------------------

func (s *State) BootStamp() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.BootStamp
}

func (s *State) SetBootStamp(t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.BootStamp = t
	s.persist()
}

func (s *State) ReconcileStamp() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ReconcileStamp
}

func (s *State) SetReconcileStamp(t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ReconcileStamp = t
	s.persist()
}

// --- Reconciles map: exists/add/get/update/remove -------------------------

// ErrReconcileExists is returned by AddReconcile when a record already
// exists for the viewing id — the at-most-one-active invariant (spec §8).
var ErrReconcileExists = fmt.Errorf("reconcile: record already exists for viewing id")

// ErrReconcileNotFound is returned by UpdateReconcile for an absent viewing id.
var ErrReconcileNotFound = fmt.Errorf("reconcile: no record for viewing id")

func (s *State) ReconcileExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.Reconciles[id]
	return ok
}

func (s *State) AddReconcile(id string, r CurrentReconcile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Reconciles[id]; ok {
		return ErrReconcileExists
	}
	s.doc.Reconciles[id] = r
	s.persist()
	return nil
}

func (s *State) GetReconcile(id string) (CurrentReconcile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.doc.Reconciles[id]
	return r, ok
}

func (s *State) UpdateReconcile(id string, r CurrentReconcile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Reconciles[id]; !ok {
		return ErrReconcileNotFound
	}
	s.doc.Reconciles[id] = r
	s.persist()
	return nil
}

func (s *State) RemoveReconcile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Reconciles, id)
	s.persist()
}

// --- Transactions (append-only list) --------------------------------

func (s *State) AddTransaction(t Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Transactions = append(s.doc.Transactions, t)
	s.persist()
}

func (s *State) GetTransaction(viewingID string) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.doc.Transactions {
		if t.ViewingID == viewingID {
			return t, true
		}
	}
	return Transaction{}, false
}

// UpdateTransaction replaces the stored transaction matching t.ViewingID.
func (s *State) UpdateTransaction(t Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Transactions {
		if s.doc.Transactions[i].ViewingID == t.ViewingID {
			s.doc.Transactions[i] = t
			s.persist()
			return true
		}
	}
	return false
}

func (s *State) Transactions() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, len(s.doc.Transactions))
	copy(out, s.doc.Transactions)
	return out
}

// --- Ballots (append-only until drained) -----------------------------

func (s *State) AddBallot(b Ballot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Ballots = append(s.doc.Ballots, b)
	s.persist()
}

// Ballots returns ballots newest-first, matching the scan order prepareBallots
// and prepareVoteBatch both require (spec §4.6).
func (s *State) Ballots() []Ballot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ballot, len(s.doc.Ballots))
	for i, b := range s.doc.Ballots {
		out[len(out)-1-i] = b
	}
	return out
}

// UpdateBallot replaces the ballot matching (surveyorID, viewingID).
func (s *State) UpdateBallot(b Ballot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Ballots {
		if s.doc.Ballots[i].SurveyorID == b.SurveyorID && s.doc.Ballots[i].ViewingID == b.ViewingID {
			s.doc.Ballots[i] = b
			s.persist()
			return true
		}
	}
	return false
}

// RemoveBallot deletes the ballot matching (surveyorID, viewingID), used by
// prepareVoteBatch once it has moved a ballot into the batch-vote list.
func (s *State) RemoveBallot(surveyorID, viewingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Ballots {
		if s.doc.Ballots[i].SurveyorID == surveyorID && s.doc.Ballots[i].ViewingID == viewingID {
			s.doc.Ballots = append(s.doc.Ballots[:i], s.doc.Ballots[i+1:]...)
			s.persist()
			return true
		}
	}
	return false
}

// --- Batch votes (ordered list, grouped by publisher) -----------------

// AppendVote appends entry to the bucket for publisherID, creating the
// bucket at the end of the list if one doesn't exist yet.
func (s *State) AppendVote(publisherID string, entry VoteEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.BatchVotes {
		if s.doc.BatchVotes[i].PublisherID == publisherID {
			s.doc.BatchVotes[i].Entries = append(s.doc.BatchVotes[i].Entries, entry)
			s.persist()
			return
		}
	}
	s.doc.BatchVotes = append(s.doc.BatchVotes, BatchVote{PublisherID: publisherID, Entries: []VoteEntry{entry}})
	s.persist()
}

// FirstBatchVote returns the head of the batch-vote list, which voteBatch
// always drains first (spec §4.6: "Take batch[0]").
func (s *State) FirstBatchVote() (BatchVote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.doc.BatchVotes) == 0 {
		return BatchVote{}, false
	}
	return s.doc.BatchVotes[0], true
}

// AckBatchVotes removes the entries whose SurveyorID is in acked from
// publisherID's bucket, removing the bucket entirely once empty.
func (s *State) AckBatchVotes(publisherID string, acked map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ok := range acked {
		if ok {
			s.doc.AckedSurveyorIDs[id] = true
		}
	}
	for i := range s.doc.BatchVotes {
		if s.doc.BatchVotes[i].PublisherID != publisherID {
			continue
		}
		remaining := s.doc.BatchVotes[i].Entries[:0]
		for _, e := range s.doc.BatchVotes[i].Entries {
			if !acked[e.SurveyorID] {
				remaining = append(remaining, e)
			}
		}
		s.doc.BatchVotes[i].Entries = remaining
		if len(remaining) == 0 {
			s.doc.BatchVotes = append(s.doc.BatchVotes[:i], s.doc.BatchVotes[i+1:]...)
		}
		s.persist()
		return
	}
}

func (s *State) BatchVotesLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.BatchVotes)
}

// PendingBallots counts ballots still outstanding for viewingID — not yet
// drained into the batch-vote list by prepareVoteBatch. Supplemented from
// bat_contribution.cc's GetBallotsCount, used by the CLI's ballots-status
// subcommand and by tests asserting ballot conservation (spec §8).
func (s *State) PendingBallots(viewingID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.doc.Ballots {
		if b.ViewingID == viewingID {
			n++
		}
	}
	return n
}

// --- Reconcile-completion bookkeeping (spec §4.5 OnReconcileCompleteSuccess) ---

// TransactionFullyVoted reports whether every surveyor id a transaction
// produced has been acknowledged by the operator and no ballot for it
// remains outstanding — the signal the ballot pipeline uses to fire
// OnReconcileCompleteSuccess exactly once per transaction.
func (s *State) TransactionFullyVoted(t Transaction) bool {
	if len(t.SurveyorIDs) == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.doc.Ballots {
		if b.ViewingID == t.ViewingID {
			return false
		}
	}
	for _, id := range t.SurveyorIDs {
		if !s.doc.AckedSurveyorIDs[id] {
			return false
		}
	}
	return true
}

// addDecimalStrings sums two base-10 probi strings using arbitrary-precision
// integer arithmetic (probi values routinely exceed int64 range). An empty
// or unparseable operand is treated as zero.
func addDecimalStrings(a, b string) string {
	sum := new(big.Int)
	x, ok := new(big.Int).SetString(a, 10)
	if ok {
		sum.Add(sum, x)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if ok {
		sum.Add(sum, y)
	}
	return sum.String()
}

// balanceReportKeyString renders a BalanceReportKey as its document map key.
func balanceReportKeyString(k BalanceReportKey) string {
	return fmt.Sprintf("%d:%02d:%s", k.Year, k.Month, k.Type)
}

// AddBalanceReportProbi adds probi (a decimal integer string) to the running
// total for key, storing the result as a decimal string (spec §4.5: "writes
// a per-month balance report item").
func (s *State) AddBalanceReportProbi(key BalanceReportKey, probi string) {
	if probi == "" {
		probi = "0"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := balanceReportKeyString(key)
	sum := addDecimalStrings(s.doc.BalanceReports[k], probi)
	s.doc.BalanceReports[k] = sum
	s.persist()
}

// BalanceReportProbi returns the accumulated probi for key, "0" if untouched.
func (s *State) BalanceReportProbi(key BalanceReportKey) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.doc.BalanceReports[balanceReportKeyString(key)]; ok {
		return v
	}
	return "0"
}

// AppendContributionInfo records one recurring-donation publisher row.
func (s *State) AppendContributionInfo(row ContributionInfoRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ContributionInfo = append(s.doc.ContributionInfo, row)
	s.persist()
}

// ContributionInfo returns the full recurring-donation publisher ledger.
func (s *State) ContributionInfo() []ContributionInfoRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ContributionInfoRow, len(s.doc.ContributionInfo))
	copy(out, s.doc.ContributionInfo)
	return out
}
