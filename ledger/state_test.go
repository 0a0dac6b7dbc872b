package ledger

import "testing"

func TestStateLoadsEmptyDocument(t *testing.T) {
	s, err := NewState(NewMemStore())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if s.Persona().PersonaID != "" {
		t.Fatalf("expected empty persona on a fresh store")
	}
	if s.ReconcileExists("nope") {
		t.Fatalf("expected no reconciles on a fresh store")
	}
}

func TestStatePersistsAcrossReload(t *testing.T) {
	store := NewMemStore()
	s, _ := NewState(store)
	s.SetPersona(PersonaIdentity{PersonaID: "p1", PaymentID: "pay1"})
	s.SetBootStamp(42)

	reloaded, err := NewState(store)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Persona().PersonaID != "p1" {
		t.Fatalf("persona not persisted across reload")
	}
	if reloaded.BootStamp() != 42 {
		t.Fatalf("boot stamp not persisted across reload")
	}
}

func TestAddReconcileAtMostOneActive(t *testing.T) {
	s, _ := NewState(NewMemStore())
	rec := CurrentReconcile{ViewingID: "v1", Step: stepNew}
	if err := s.AddReconcile("v1", rec); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.AddReconcile("v1", rec); err != ErrReconcileExists {
		t.Fatalf("expected ErrReconcileExists, got %v", err)
	}
}

func TestUpdateReconcileRequiresExisting(t *testing.T) {
	s, _ := NewState(NewMemStore())
	if err := s.UpdateReconcile("missing", CurrentReconcile{}); err != ErrReconcileNotFound {
		t.Fatalf("expected ErrReconcileNotFound, got %v", err)
	}
}

func TestReconcileLifecycle(t *testing.T) {
	s, _ := NewState(NewMemStore())
	_ = s.AddReconcile("v1", CurrentReconcile{ViewingID: "v1", Step: stepNew})

	rec, ok := s.GetReconcile("v1")
	if !ok {
		t.Fatalf("expected reconcile to be present")
	}
	rec.Step = stepReconcileRequested
	if err := s.UpdateReconcile("v1", rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.GetReconcile("v1")
	if got.Step != stepReconcileRequested {
		t.Fatalf("step = %v, want %v", got.Step, stepReconcileRequested)
	}

	s.RemoveReconcile("v1")
	if s.ReconcileExists("v1") {
		t.Fatalf("expected reconcile removed")
	}
}

func TestBallotsNewestFirst(t *testing.T) {
	s, _ := NewState(NewMemStore())
	s.AddBallot(Ballot{SurveyorID: "s1", ViewingID: "v1"})
	s.AddBallot(Ballot{SurveyorID: "s2", ViewingID: "v1"})
	s.AddBallot(Ballot{SurveyorID: "s3", ViewingID: "v1"})

	got := s.Ballots()
	want := []string{"s3", "s2", "s1"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, b := range got {
		if b.SurveyorID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, b.SurveyorID, want[i])
		}
	}
}

func TestUpdateAndRemoveBallot(t *testing.T) {
	s, _ := NewState(NewMemStore())
	s.AddBallot(Ballot{SurveyorID: "s1", ViewingID: "v1"})

	b := Ballot{SurveyorID: "s1", ViewingID: "v1", PrepareBallot: "doc"}
	if !s.UpdateBallot(b) {
		t.Fatalf("expected update to find the ballot")
	}
	got := s.Ballots()
	if len(got) != 1 || got[0].PrepareBallot != "doc" {
		t.Fatalf("ballot not updated: %+v", got)
	}

	if !s.RemoveBallot("s1", "v1") {
		t.Fatalf("expected remove to find the ballot")
	}
	if len(s.Ballots()) != 0 {
		t.Fatalf("expected no ballots remaining")
	}
}

func TestPendingBallotsCountsByViewingID(t *testing.T) {
	s, _ := NewState(NewMemStore())
	s.AddBallot(Ballot{SurveyorID: "s1", ViewingID: "v1"})
	s.AddBallot(Ballot{SurveyorID: "s2", ViewingID: "v1"})
	s.AddBallot(Ballot{SurveyorID: "s3", ViewingID: "v2"})

	if got := s.PendingBallots("v1"); got != 2 {
		t.Fatalf("PendingBallots(v1) = %d, want 2", got)
	}
	if got := s.PendingBallots("v2"); got != 1 {
		t.Fatalf("PendingBallots(v2) = %d, want 1", got)
	}
	if got := s.PendingBallots("missing"); got != 0 {
		t.Fatalf("PendingBallots(missing) = %d, want 0", got)
	}
}

func TestAppendAndAckBatchVotes(t *testing.T) {
	s, _ := NewState(NewMemStore())
	s.AppendVote("pub1", VoteEntry{SurveyorID: "s1", Proof: "p1"})
	s.AppendVote("pub1", VoteEntry{SurveyorID: "s2", Proof: "p2"})
	s.AppendVote("pub2", VoteEntry{SurveyorID: "s3", Proof: "p3"})

	if s.BatchVotesLen() != 2 {
		t.Fatalf("batch votes len = %d, want 2", s.BatchVotesLen())
	}

	head, ok := s.FirstBatchVote()
	if !ok || head.PublisherID != "pub1" {
		t.Fatalf("expected pub1 at head, got %+v", head)
	}

	// Partial ack: only s1 acknowledged, s2 must remain for retry.
	s.AckBatchVotes("pub1", map[string]bool{"s1": true})
	head, ok = s.FirstBatchVote()
	if !ok || head.PublisherID != "pub1" || len(head.Entries) != 1 || head.Entries[0].SurveyorID != "s2" {
		t.Fatalf("expected s2 to remain pending, got %+v", head)
	}

	// Fully ack pub1: its bucket should disappear, promoting pub2 to head.
	s.AckBatchVotes("pub1", map[string]bool{"s2": true})
	head, ok = s.FirstBatchVote()
	if !ok || head.PublisherID != "pub2" {
		t.Fatalf("expected pub2 to become head after pub1 drained, got %+v", head)
	}
	if s.BatchVotesLen() != 1 {
		t.Fatalf("batch votes len = %d, want 1", s.BatchVotesLen())
	}
}

func TestTransactionAddGetUpdate(t *testing.T) {
	s, _ := NewState(NewMemStore())
	s.AddTransaction(Transaction{ViewingID: "v1", SurveyorID: "surv1"})

	tx, ok := s.GetTransaction("v1")
	if !ok || tx.SurveyorID != "surv1" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	tx.ContributionProbi = "1000"
	if !s.UpdateTransaction(tx) {
		t.Fatalf("expected update to succeed")
	}
	got, _ := s.GetTransaction("v1")
	if got.ContributionProbi != "1000" {
		t.Fatalf("update not applied: %+v", got)
	}

	if s.UpdateTransaction(Transaction{ViewingID: "missing"}) {
		t.Fatalf("expected update of unknown viewing id to fail")
	}
}

func TestTransactionFullyVoted(t *testing.T) {
	s, _ := NewState(NewMemStore())
	tx := Transaction{ViewingID: "v1", SurveyorIDs: []string{"s1", "s2"}}

	if s.TransactionFullyVoted(tx) {
		t.Fatalf("transaction with no acked surveyor ids should not be fully voted")
	}

	s.AddBallot(Ballot{SurveyorID: "s1", ViewingID: "v1"})
	s.AckBatchVotes("pub1", map[string]bool{"s1": true, "s2": true})
	if s.TransactionFullyVoted(tx) {
		t.Fatalf("transaction with an outstanding ballot should not be fully voted")
	}

	s.RemoveBallot("s1", "v1")
	if !s.TransactionFullyVoted(tx) {
		t.Fatalf("expected transaction to be fully voted once acked and drained")
	}

	if s.TransactionFullyVoted(Transaction{ViewingID: "v2"}) {
		t.Fatalf("a transaction with no surveyor ids should never report fully voted")
	}
}

func TestBalanceReportProbiAccumulates(t *testing.T) {
	s, _ := NewState(NewMemStore())
	key := BalanceReportKey{Month: 3, Year: 2026, Type: ReportAutoContribution}

	if got := s.BalanceReportProbi(key); got != "0" {
		t.Fatalf("untouched balance report probi = %s, want 0", got)
	}

	s.AddBalanceReportProbi(key, "1000000000000000000")
	s.AddBalanceReportProbi(key, "2500000000000000000")
	if got := s.BalanceReportProbi(key); got != "3500000000000000000" {
		t.Fatalf("accumulated probi = %s, want 3500000000000000000", got)
	}

	other := BalanceReportKey{Month: 4, Year: 2026, Type: ReportDonation}
	if got := s.BalanceReportProbi(other); got != "0" {
		t.Fatalf("a distinct report key must not share totals, got %s", got)
	}
}
