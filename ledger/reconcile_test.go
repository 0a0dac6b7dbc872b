package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brave-intl/ledgerclient/internal/fakeoperator"
)

func newTestReconciler(t *testing.T, op *fakeoperator.Server) (*Reconciler, *State, chan ReconcileOutcome) {
	t.Helper()
	s, err := NewState(NewMemStore())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 7)
	}
	s.SetWalletInfo(WalletInfo{KeyInfoSeed: seed})
	s.SetPersona(PersonaIdentity{PersonaID: "11111111-1111-1111-1111-111111111111", UserID: "u1", PaymentID: "pid1"})
	s.SetWalletProperties(WalletProperties{Balance: 100, ContributionAmount: 10, ReconcileDays: 30})

	dispatcher := NewDispatcher(2)
	t.Cleanup(dispatcher.Close)
	operator := newTestOperator(op.URL())

	outcomes := make(chan ReconcileOutcome, 4)
	r := NewReconciler(s, operator, NewStubCredentialOracle(), dispatcher, "BAT", func(o ReconcileOutcome) { outcomes <- o }, logrus.NewEntry(logrus.StandardLogger()))
	return r, s, outcomes
}

func TestAutoContributeHappyPath(t *testing.T) {
	op := fakeoperator.New()
	op.SurveyorIDs = []string{"surv1", "surv2"}
	defer op.Close()

	r, s, outcomes := newTestReconciler(t, op)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.StartAutoContribute(ctx, []PublisherShare{{PublisherID: "pub1", Weight: 1}})

	select {
	case outcome := <-outcomes:
		if outcome.Result != ResultLedgerOK {
			t.Fatalf("result = %v, want ResultLedgerOK", outcome.Result)
		}
		if outcome.Category != CategoryAutoContribute {
			t.Fatalf("category = %v, want CategoryAutoContribute", outcome.Category)
		}
		if outcome.Probi != op.Probi {
			t.Fatalf("probi = %q, want %q", outcome.Probi, op.Probi)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for reconcile outcome")
	}

	if s.ReconcileExists(outcomes2ViewingID(t, s)) {
		t.Fatalf("expected the reconcile record to be removed on completion")
	}

	txs := s.Transactions()
	if len(txs) != 1 {
		t.Fatalf("expected one recorded transaction, got %d", len(txs))
	}
	if len(txs[0].SurveyorIDs) != 2 {
		t.Fatalf("expected 2 surveyor ids on the transaction, got %d", len(txs[0].SurveyorIDs))
	}
	if s.PendingBallots(txs[0].ViewingID) != 2 {
		t.Fatalf("expected 2 ballots seeded for the viewing id, got %d", s.PendingBallots(txs[0].ViewingID))
	}
}

// outcomes2ViewingID is a small test helper: after the happy-path reconcile
// above has finished, the only transaction recorded carries its viewing id.
func outcomes2ViewingID(t *testing.T, s *State) string {
	t.Helper()
	txs := s.Transactions()
	if len(txs) == 0 {
		return ""
	}
	return txs[len(txs)-1].ViewingID
}

func TestAutoContributeRejectsEmptyList(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	r, s, outcomes := newTestReconciler(t, op)

	before := s.ReconcileStamp()
	r.StartAutoContribute(context.Background(), nil)

	select {
	case o := <-outcomes:
		t.Fatalf("expected no reconcile outcome for a rejected start, got %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
	if s.ReconcileStamp() <= before {
		t.Fatalf("expected reconcile_stamp to be pushed forward on rejection")
	}
}

func TestAutoContributeRejectsInsufficientBalance(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	r, s, outcomes := newTestReconciler(t, op)
	props := s.WalletProperties()
	props.ContributionAmount = 1000 // exceeds balance of 100
	s.SetWalletProperties(props)

	r.StartAutoContribute(context.Background(), []PublisherShare{{PublisherID: "pub1", Weight: 1}})

	select {
	case o := <-outcomes:
		t.Fatalf("expected no reconcile outcome for a rejected start, got %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecurringDonationFallsThroughToAutoContribute(t *testing.T) {
	op := fakeoperator.New()
	op.SurveyorIDs = []string{"surv1"}
	defer op.Close()
	r, _, outcomes := newTestReconciler(t, op)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// empty recurring-donation list rejects, falling through to AutoContribute
	// with the supplied fallback list (spec: "chained invocation").
	r.StartRecurringDonation(ctx, nil, []PublisherShare{{PublisherID: "pub1", Weight: 1}})

	select {
	case outcome := <-outcomes:
		if outcome.Category != CategoryAutoContribute {
			t.Fatalf("expected the fallthrough reconcile to be categorized AutoContribute, got %v", outcome.Category)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for the fallthrough reconcile")
	}
}

func TestDirectDonationRejectsCurrencyMismatch(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	r, _, outcomes := newTestReconciler(t, op)

	r.StartDirectDonation(context.Background(), []Direction{{PublisherKey: "pub1", Amount: 5, Currency: "USD"}})

	select {
	case o := <-outcomes:
		t.Fatalf("expected no outcome for a currency-mismatched direct donation, got %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDirectDonationRejectsEmptyPublisherKey(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	r, _, outcomes := newTestReconciler(t, op)

	r.StartDirectDonation(context.Background(), []Direction{{PublisherKey: "", Amount: 5, Currency: "BAT"}})

	select {
	case o := <-outcomes:
		t.Fatalf("expected no outcome for a direct donation with an empty publisher key, got %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBalanceReportKeyFor(t *testing.T) {
	when := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		category ReconcileCategory
		want     BalanceReportType
	}{
		{"auto contribute", CategoryAutoContribute, ReportAutoContribution},
		{"recurring donation", CategoryRecurringDonation, ReportDonationRecurring},
		{"direct donation", CategoryDirectDonation, ReportDonation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := BalanceReportKeyFor(tc.category, when)
			if key.Month != 3 || key.Year != 2026 {
				t.Fatalf("unexpected month/year: %+v", key)
			}
			if key.Type != tc.want {
				t.Fatalf("type = %v, want %v", key.Type, tc.want)
			}
		})
	}
}
