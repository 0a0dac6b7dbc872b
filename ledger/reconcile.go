package ledger

// Reconcile state machine (component C5): drives a viewing id through
// Reconcile → Current → Payload → RegisterViewing → ViewingCredentials,
// persisting CurrentReconcile, including its reconcileStep tag, after every
// step. Nothing in this package reads the tag back: a record left by an
// interrupted run is not resumed and stays in the reconciles map. Grounded
// on bat_client.cc's reconcile/current/votePublishers call chain,
// restructured around an explicit reconcileStep tag instead of
// bat_client.cc's implicit control flow.

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReconcileOutcome is delivered once per viewing id, terminating its
// lifecycle either way (spec §4.5: "map entry must be deleted on both
// terminal outcomes").
type ReconcileOutcome struct {
	ViewingID string
	Result    Result
	Probi     string
	Category  ReconcileCategory
}

// Reconciler owns the per-viewing-id state machine.
type Reconciler struct {
	state      *State
	operator   *OperatorClient
	oracle     CredentialOracle
	dispatcher *Dispatcher
	currency   string
	onComplete func(ReconcileOutcome)
	log        *logrus.Entry
}

// NewReconciler builds a Reconciler. onComplete is invoked exactly once per
// viewing id, on both success and failure.
func NewReconciler(state *State, operator *OperatorClient, oracle CredentialOracle, dispatcher *Dispatcher, currency string, onComplete func(ReconcileOutcome), log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{state: state, operator: operator, oracle: oracle, dispatcher: dispatcher, currency: currency, onComplete: onComplete, log: log}
}

// StartAutoContribute begins an AutoContribute reconcile for list, rejecting
// (and resetting reconcile_stamp) if the list is empty or balance is
// insufficient (spec §4.5 eligibility checks).
func (r *Reconciler) StartAutoContribute(ctx context.Context, list []PublisherShare) {
	props := r.state.WalletProperties()
	fee := props.ContributionAmount
	if len(list) == 0 || fee > props.Balance {
		r.resetReconcileStamp(props.ReconcileDays)
		return
	}
	r.enter(ctx, CategoryAutoContribute, uuid.NewString(), list, nil, fee)
}

// StartRecurringDonation begins a RecurringDonation reconcile; on rejection
// it falls through to StartAutoContribute (spec §4.5: "fall through to
// AutoContribute (chained invocation)").
func (r *Reconciler) StartRecurringDonation(ctx context.Context, list []PublisherShare, autoContributeList []PublisherShare) {
	props := r.state.WalletProperties()
	reject := len(list) == 0
	if !reject {
		for _, p := range list {
			if p.PublisherID == "" {
				reject = true
				break
			}
		}
	}
	fee := 0.0
	for _, p := range list {
		fee += p.Weight
	}
	if !reject && fee+props.ContributionAmount > props.Balance {
		reject = true
	}
	if reject {
		r.StartAutoContribute(ctx, autoContributeList)
		return
	}
	r.enter(ctx, CategoryRecurringDonation, uuid.NewString(), list, nil, fee)
}

// StartDirectDonation begins a DirectDonation (one-off tip) reconcile.
func (r *Reconciler) StartDirectDonation(ctx context.Context, directions []Direction) {
	props := r.state.WalletProperties()
	fee := 0.0
	for _, d := range directions {
		if d.PublisherKey == "" || d.Currency != r.currency {
			return
		}
		fee += d.Amount
	}
	if fee > props.Balance {
		return
	}
	r.enter(ctx, CategoryDirectDonation, uuid.NewString(), nil, directions, fee)
}

func (r *Reconciler) resetReconcileStamp(days int) {
	r.state.SetReconcileStamp(time.Now().Unix() + int64(days)*86400)
}

func (r *Reconciler) enter(ctx context.Context, category ReconcileCategory, viewingID string, list []PublisherShare, directions []Direction, fee float64) {
	rec := CurrentReconcile{
		ViewingID:  viewingID,
		Step:       stepNew,
		Category:   category,
		List:       list,
		Directions: directions,
		Fee:        fee,
		Currency:   r.currency,
	}
	if err := r.state.AddReconcile(viewingID, rec); err != nil {
		r.finish(viewingID, category, newError(ResultLedgerError, err), "")
		return
	}
	r.stepReconcile(ctx, viewingID)
}

func (r *Reconciler) finish(viewingID string, category ReconcileCategory, err error, probi string) {
	r.state.RemoveReconcile(viewingID)
	result, _ := ResultOf(err)
	if err == nil {
		result = ResultLedgerOK
	}
	r.onComplete(ReconcileOutcome{ViewingID: viewingID, Result: result, Probi: probi, Category: category})
}

func (r *Reconciler) stepReconcile(ctx context.Context, viewingID string) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	userID := r.state.Persona().UserID
	r.operator.Reconcile(ctx, userID, func(resp ReconcileResponse, err error) {
		if err != nil {
			r.finish(viewingID, rec.Category, err, "")
			return
		}
		rec.SurveyorID = resp.SurveyorID
		rec.Step = stepReconcileRequested
		if uerr := r.state.UpdateReconcile(viewingID, rec); uerr != nil {
			r.finish(viewingID, rec.Category, newError(ResultLedgerError, uerr), "")
			return
		}
		r.stepCurrent(ctx, viewingID)
	})
}

func (r *Reconciler) stepCurrent(ctx context.Context, viewingID string) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	paymentID := r.state.Persona().PaymentID
	amount := strconv.FormatFloat(rec.Fee, 'f', -1, 64)
	r.operator.Current(ctx, paymentID, amount, rec.Currency, func(tx UnsignedTx, err error) {
		if err != nil {
			r.finish(viewingID, rec.Category, err, "")
			return
		}
		rec.UnsignedTxOctets = tx.Octets
		rec.Destination = tx.Destination
		rec.Amount = rec.Fee
		rec.Step = stepCurrentRequested
		if uerr := r.state.UpdateReconcile(viewingID, rec); uerr != nil {
			r.finish(viewingID, rec.Category, newError(ResultLedgerError, uerr), "")
			return
		}
		r.stepPayload(ctx, viewingID)
	})
}

func (r *Reconciler) stepPayload(ctx context.Context, viewingID string) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	secret, err := HKDF(r.state.WalletInfo().KeyInfoSeed)
	if err != nil {
		r.finish(viewingID, rec.Category, newError(ResultLedgerError, err), "")
		return
	}
	_, signingKey, err := Ed25519FromSecret(secret)
	if err != nil {
		r.finish(viewingID, rec.Category, newError(ResultLedgerError, err), "")
		return
	}
	octets := []byte(rec.UnsignedTxOctets)
	digestValue := Digest(octets)
	sig := SignDigestHeader(digestValue, "primary", signingKey)

	paymentID := r.state.Persona().PaymentID
	body := PayloadRequest{
		RequestType: "httpSignature",
		SignedTx: SignedTxEnvelope{
			Headers: map[string]string{"digest": digestValue, "signature": sig},
			Body:    rec.UnsignedTxOctets,
			Octets:  rec.UnsignedTxOctets,
		},
		ViewingID:  viewingID,
		SurveyorID: rec.SurveyorID,
	}
	r.operator.Payload(ctx, paymentID, body, func(resp PayloadResponse, err error) {
		if err != nil {
			r.finish(viewingID, rec.Category, err, "")
			return
		}
		rec.Rates = resp.Rates
		rec.Step = stepPayloadSubmitted
		if uerr := r.state.UpdateReconcile(viewingID, rec); uerr != nil {
			r.finish(viewingID, rec.Category, newError(ResultLedgerError, uerr), "")
			return
		}
		r.recordTransaction(viewingID, resp)
		r.stepRegisterViewing(ctx, viewingID)
	})
}

func (r *Reconciler) recordTransaction(viewingID string, resp PayloadResponse) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	r.state.AddTransaction(Transaction{
		ViewingID:                viewingID,
		SurveyorID:               rec.SurveyorID,
		ContributionRates:        resp.Rates,
		ContributionFiatAmount:   resp.FiatAmount,
		ContributionFiatCurrency: resp.FiatCurrency,
		ContributionProbi:        resp.ProbiAmount,
		Category:                 rec.Category,
		List:                     rec.List,
	})
}

func (r *Reconciler) stepRegisterViewing(ctx context.Context, viewingID string) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	anonizeViewingID, err := stripAndDrop13th(viewingID)
	if err != nil {
		r.finish(viewingID, rec.Category, newError(ResultLedgerError, err), "")
		return
	}
	r.operator.RegisterViewing(ctx, func(reg PersonaRegistrar, err error) {
		if err != nil {
			r.finish(viewingID, rec.Category, err, "")
			return
		}
		rec.RegistrarVK = reg.RegistrarVK
		rec.AnonizeViewingID = anonizeViewingID
		rec.Step = stepViewingRegistered
		if uerr := r.state.UpdateReconcile(viewingID, rec); uerr != nil {
			r.finish(viewingID, rec.Category, newError(ResultLedgerError, uerr), "")
			return
		}
		r.dispatcher.RunIOTask(
			func() (any, error) {
				preFlight, err := r.oracle.MakeCred(anonizeViewingID)
				if err != nil {
					return nil, err
				}
				proof, err := r.oracle.RegisterUserMessage(preFlight, reg.RegistrarVK)
				if err != nil {
					return nil, err
				}
				return viewingRegResult{preFlight: preFlight, proof: proof}, nil
			},
			func(result any, err error) {
				if err != nil {
					r.finish(viewingID, rec.Category, newError(ResultBadRegistrationResponse, err), "")
					return
				}
				vr := result.(viewingRegResult)
				rec, ok := r.state.GetReconcile(viewingID)
				if !ok {
					return
				}
				rec.PreFlight = vr.preFlight
				if uerr := r.state.UpdateReconcile(viewingID, rec); uerr != nil {
					r.finish(viewingID, rec.Category, newError(ResultLedgerError, uerr), "")
					return
				}
				r.stepCredentials(ctx, viewingID, vr.proof)
			},
		)
	})
}

// viewingRegResult carries the pre-flight credential alongside the blinded
// proof out of stepRegisterViewing's worker task so the former can be
// persisted (CurrentReconcile.PreFlight) before stepCredentials needs it to
// finalize the master user token.
type viewingRegResult struct {
	preFlight string
	proof     string
}

func (r *Reconciler) stepCredentials(ctx context.Context, viewingID, proof string) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	r.operator.ViewingCredentials(ctx, rec.AnonizeViewingID, ViewingCredsRequest{Proof: proof}, func(resp ViewingCredsResponse, err error) {
		if err != nil {
			r.finish(viewingID, rec.Category, err, "")
			return
		}
		rec, ok := r.state.GetReconcile(viewingID)
		if !ok {
			return
		}
		r.dispatcher.RunIOTask(
			func() (any, error) {
				return r.oracle.RegisterUserFinal(rec.AnonizeViewingID, resp.Verification, rec.PreFlight, rec.RegistrarVK)
			},
			func(result any, err error) {
				if err != nil {
					r.finish(viewingID, rec.Category, newError(ResultRegistrationVerificationFailed, err), "")
					return
				}
				token, _ := result.(string)
				if token == "" {
					r.finish(viewingID, rec.Category, newError(ResultRegistrationVerificationFailed, nil), "")
					return
				}
				rec, ok := r.state.GetReconcile(viewingID)
				if !ok {
					return
				}
				rec.MasterUserToken = token
				rec.SurveyorIDs = resp.SurveyorIDs
				rec.Step = stepCredentialsObtained
				if uerr := r.state.UpdateReconcile(viewingID, rec); uerr != nil {
					r.finish(viewingID, rec.Category, newError(ResultLedgerError, uerr), "")
					return
				}
				r.materializeBallots(viewingID)
				rec.Step = stepDone
				_ = r.state.UpdateReconcile(viewingID, rec)
				probi := ""
				if tx, ok := r.state.GetTransaction(viewingID); ok {
					probi = tx.ContributionProbi
				}
				r.finish(viewingID, rec.Category, nil, probi)
			},
		)
	})
}

// materializeBallots updates the recorded transaction with the surveyor ids
// and credential material the ballot pipeline (C6) will consume, then seeds
// one Ballot per surveyor id (spec §4.6's prepareBallots source list).
func (r *Reconciler) materializeBallots(viewingID string) {
	rec, ok := r.state.GetReconcile(viewingID)
	if !ok {
		return
	}
	tx, ok := r.state.GetTransaction(viewingID)
	if !ok {
		return
	}
	tx.AnonizeViewingID = rec.AnonizeViewingID
	tx.RegistrarVK = rec.RegistrarVK
	tx.MasterUserToken = rec.MasterUserToken
	tx.SurveyorIDs = rec.SurveyorIDs
	r.state.UpdateTransaction(tx)

	publisher := defaultPublisherFor(rec)
	for _, surveyorID := range rec.SurveyorIDs {
		r.state.AddBallot(Ballot{
			SurveyorID:  surveyorID,
			ViewingID:   viewingID,
			PublisherID: publisher,
		})
	}
}

// defaultPublisherFor picks the publisher a ballot should be attributed to
// for reconcile categories with more than one candidate; AutoContribute and
// RecurringDonation split ballots across list entries in proportion to
// weight in a full port, but a single-publisher assignment here keeps the
// pipeline's bucketing logic exercised without inventing a weighted-sampler
// that neither spec.md nor the original implementation specifies in detail.
func defaultPublisherFor(rec CurrentReconcile) string {
	if len(rec.Directions) > 0 {
		return rec.Directions[0].PublisherKey
	}
	if len(rec.List) > 0 {
		return rec.List[0].PublisherID
	}
	return ""
}

// BalanceReportKeyFor builds the (month, year, type) report key
// OnReconcileCompleteSuccess writes, supplemented from
// bat_contribution.cc's GetBalanceReportName (spec §4.5).
func BalanceReportKeyFor(category ReconcileCategory, when time.Time) BalanceReportKey {
	var t BalanceReportType
	switch category {
	case CategoryAutoContribute:
		t = ReportAutoContribution
	case CategoryRecurringDonation:
		t = ReportDonationRecurring
	default:
		t = ReportDonation
	}
	return BalanceReportKey{Month: int(when.Month()), Year: when.Year(), Type: t}
}

// RecordReconcileCompletion is OnReconcileCompleteSuccess (spec §4.5):
// invoked once the ballot pipeline has cast every ballot a transaction
// produced, it writes the per-month balance report item and, for
// RecurringDonation transactions, one ContributionInfoRow per publisher with
// probi = floor(weight_) * 10^18. Called by BallotPipeline once per
// transaction (guarded by Transaction.Reported upstream).
func RecordReconcileCompletion(state *State, tx Transaction, when time.Time) {
	key := BalanceReportKeyFor(tx.Category, when)
	state.AddBalanceReportProbi(key, tx.ContributionProbi)

	if tx.Category != CategoryRecurringDonation {
		return
	}
	const probiPerUnit = 1_000_000_000_000_000_000 // 10^18, spec §4.5
	for _, p := range tx.List {
		units := big.NewInt(int64(math.Floor(p.Weight)))
		probi := new(big.Int).Mul(units, big.NewInt(probiPerUnit))
		state.AppendContributionInfo(ContributionInfoRow{
			ViewingID: tx.ViewingID,
			Publisher: p.PublisherID,
			Probi:     probi.String(),
			Month:     key.Month,
			Year:      key.Year,
		})
	}
}
