package ledger

import "time"

// ReconcileCategory identifies why a reconcile was started, per spec.md §3.
type ReconcileCategory int

const (
	// CategoryAutoContribute is a recurring, balance-gated publisher split.
	CategoryAutoContribute ReconcileCategory = iota
	// CategoryRecurringDonation is a recurring donation to a fixed publisher set.
	CategoryRecurringDonation
	// CategoryDirectDonation is a one-off tip to one or more publishers.
	CategoryDirectDonation
)

func (c ReconcileCategory) String() string {
	switch c {
	case CategoryAutoContribute:
		return "auto_contribute"
	case CategoryRecurringDonation:
		return "recurring_donation"
	case CategoryDirectDonation:
		return "direct_donation"
	default:
		return "unknown_category"
	}
}

// BalanceReportType mirrors the {AUTO_CONTRIBUTION, DONATION,
// DONATION_RECURRING} keying used by OnReconcileCompleteSuccess (spec §4.5).
type BalanceReportType int

const (
	ReportAutoContribution BalanceReportType = iota
	ReportDonation
	ReportDonationRecurring
)

func (t BalanceReportType) String() string {
	switch t {
	case ReportAutoContribution:
		return "AUTO_CONTRIBUTION"
	case ReportDonation:
		return "DONATION"
	case ReportDonationRecurring:
		return "DONATION_RECURRING"
	default:
		return "UNKNOWN"
	}
}

// BalanceReportKey identifies one monthly report bucket, grounded on
// bat_contribution.cc's GetBalanceReportName helper (original_source/).
type BalanceReportKey struct {
	Month int
	Year  int
	Type  BalanceReportType
}

// PublisherShare is one entry of a publisher distribution list, the input to
// AutoContribute/RecurringDonation reconciles.
type PublisherShare struct {
	PublisherID string  `json:"publisher_id"`
	Weight      float64 `json:"weight_"`
}

// Direction is one entry of a direct-donation request: an absolute amount
// tipped to a single publisher.
type Direction struct {
	PublisherKey string  `json:"publisher_key_"`
	Amount       float64 `json:"amount_"`
	Currency     string  `json:"currency_"`
}

// WalletInfo holds the persona's Ed25519 key-seed material (spec §3).
type WalletInfo struct {
	KeyInfoSeed []byte `json:"key_info_seed,omitempty"`
}

// PersonaIdentity holds the persona/blinded-credential identifiers (spec §3).
type PersonaIdentity struct {
	PersonaID       string `json:"persona_id,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	RegistrarVK     string `json:"registrar_vk,omitempty"`
	PreFlight       string `json:"pre_flight,omitempty"`
	MasterUserToken string `json:"master_user_token,omitempty"`
	PaymentID       string `json:"payment_id,omitempty"`
}

// Grant is the server-issued promotion grant (spec §3).
type Grant struct {
	PromotionID string `json:"promotion_id"`
	Probi       string `json:"probi"`
	ExpiryTime  int64  `json:"expiry_time"`
	Type        string `json:"type"`
}

// WalletProperties is the opaque, periodically-refreshed server-reported
// wallet cache (spec §3). ContributionAmount and ReconcileDays are carried
// here too: they arrive on the same persona-registration response the rest
// of this cache is seeded from (bat_client.cc's getJSONWalletInfo parses
// fee_amount/days alongside balance/probi/grants/rates), and AutoContribute
// eligibility needs ContributionAmount to compare against Balance.
type WalletProperties struct {
	Balance           float64            `json:"balance"`
	Probi             string             `json:"probi"`
	Grants            []Grant            `json:"grants"`
	Rates             map[string]float64 `json:"rates"`
	Parameters        map[string]any     `json:"parameters"`
	ContributionAmount float64           `json:"contribution_amount"`
	ReconcileDays     int                `json:"reconcile_days"`
	LastRefreshedAt   time.Time          `json:"last_refreshed_at"`
}

// reconcileStep names the explicit state-machine position for a
// CurrentReconcile record. It is persisted with the record; no code path
// reads it back to resume an interrupted reconcile.
type reconcileStep int

const (
	stepNew reconcileStep = iota
	stepReconcileRequested
	stepCurrentRequested
	stepPayloadSubmitted
	stepViewingRegistered
	stepCredentialsObtained
	stepDone
)

func (s reconcileStep) String() string {
	switch s {
	case stepNew:
		return "NEW"
	case stepReconcileRequested:
		return "RECONCILE_REQUESTED"
	case stepCurrentRequested:
		return "CURRENT_REQUESTED"
	case stepPayloadSubmitted:
		return "PAYLOAD_SUBMITTED"
	case stepViewingRegistered:
		return "VIEWING_REGISTERED"
	case stepCredentialsObtained:
		return "CREDENTIALS_OBTAINED"
	case stepDone:
		return "DONE"
	default:
		return "UNKNOWN_STEP"
	}
}

// CurrentReconcile is the in-flight record for one viewing id (spec §3, §4.5).
type CurrentReconcile struct {
	ViewingID string            `json:"viewing_id"`
	Step      reconcileStep     `json:"step"`
	Category  ReconcileCategory `json:"category"`

	List       []PublisherShare `json:"list,omitempty"`
	Directions []Direction      `json:"directions,omitempty"`
	Fee        float64          `json:"fee"`

	SurveyorID        string `json:"surveyor_id,omitempty"`
	RegistrarVK       string `json:"registrar_vk,omitempty"`
	AnonizeViewingID  string `json:"anonize_viewing_id,omitempty"`
	PreFlight         string `json:"pre_flight,omitempty"`
	MasterUserToken   string `json:"master_user_token,omitempty"`
	SurveyorIDs       []string `json:"surveyor_ids,omitempty"`

	// UnsignedTxOctets/Destination hold the CURRENT_REQUESTED step's
	// response long enough to build and sign the PAYLOAD_SUBMITTED request.
	UnsignedTxOctets string `json:"unsigned_tx_octets,omitempty"`
	Destination      string `json:"destination,omitempty"`

	Rates    map[string]float64 `json:"rates,omitempty"`
	Amount   float64            `json:"amount"`
	Currency string             `json:"currency,omitempty"`
}

// TransactionBucket tracks the per-publisher ballot offset held on a
// Transaction (spec §4.6 prepareVoteBatch: "increment the per-publisher
// offset_ in transaction.ballots[]"). The actual surveyor/proof pairs live in
// the separate, top-level BatchVote list — this bucket only counts them.
type TransactionBucket struct {
	Offset int `json:"offset_"`
}

// VoteEntry is one surveyor/proof pair inside a publisher's vote bucket.
type VoteEntry struct {
	SurveyorID string `json:"surveyorId"`
	Proof      string `json:"proof"`
}

// BatchVote groups pending vote submissions by publisher (spec §3). The
// state store's batch-votes list is an ordered slice of these — voteBatch
// always drains batch[0], so insertion order is significant.
type BatchVote struct {
	PublisherID string      `json:"publisher_id"`
	Entries     []VoteEntry `json:"entries"`
}

// Transaction is the append-only record of one completed reconcile, and the
// home of the ballot offsets the ballot pipeline subsequently produces
// (spec §3).
type Transaction struct {
	ViewingID          string   `json:"viewing_id"`
	SurveyorID         string   `json:"surveyor_id"`
	SurveyorIDs        []string `json:"surveyor_ids"`
	AnonizeViewingID   string   `json:"anonize_viewing_id"`
	RegistrarVK        string   `json:"registrar_vk"`
	MasterUserToken    string   `json:"master_user_token"`
	ContributionRates  map[string]float64 `json:"contribution_rates,omitempty"`
	ContributionFiatAmount   float64 `json:"contribution_fiat_amount"`
	ContributionFiatCurrency string  `json:"contribution_fiat_currency"`
	ContributionProbi  string   `json:"contribution_probi"`

	// Category and List are carried over from the CurrentReconcile record
	// that produced this transaction (which is deleted on completion) so
	// OnReconcileCompleteSuccess can still key the monthly balance report
	// and, for RecurringDonation, emit one ContributionInfoRow per
	// publisher once the ballot pipeline finishes casting votes (spec §4.5).
	Category ReconcileCategory `json:"category"`
	List     []PublisherShare  `json:"list,omitempty"`
	// Reported marks that OnReconcileCompleteSuccess has already run for
	// this transaction, making the check idempotent across ticks.
	Reported bool `json:"reported,omitempty"`

	Buckets map[string]*TransactionBucket `json:"ballots,omitempty"` // keyed by publisher_id
}

// ContributionInfoRow is one recurring-donation publisher ledger entry (spec
// §4.5: "one SaveContributionInfo row per publisher with probi =
// floor(weight_) · 10^18").
type ContributionInfoRow struct {
	ViewingID string `json:"viewing_id"`
	Publisher string `json:"publisher_id"`
	Probi     string `json:"probi"`
	Month     int    `json:"month"`
	Year      int    `json:"year"`
}

// totalBucketOffset sums the per-publisher offsets recorded on the
// transaction — the count of ballots this transaction has moved into the
// batch-vote pipeline so far.
func (t *Transaction) totalBucketOffset() int {
	n := 0
	for _, b := range t.Buckets {
		n += b.Offset
	}
	return n
}

// Ballot is a single proof, pending attachment of its blinded signature, that
// one vote's worth of contribution is directed to one publisher (spec §3).
type Ballot struct {
	SurveyorID   string `json:"surveyor_id"`
	ViewingID    string `json:"viewing_id"`
	PublisherID  string `json:"publisher_id"`
	Offset       int    `json:"offset"`
	PrepareBallot string `json:"prepare_ballot,omitempty"` // raw surveyor JSON
	ProofBallot   string `json:"proof_ballot,omitempty"`   // blinded signature
	DelayStamp    int64  `json:"delay_stamp,omitempty"`
}

// surveyorDocument is the raw per-surveyor JSON returned by
// /v2/batch/surveyor/voting/{anonizeViewingId} (spec §6).
type surveyorDocument struct {
	SurveyorID string `json:"surveyorId"`
	Signature  string `json:"signature"`
	VK         string `json:"surveyorVk"`
	Error      string `json:"error,omitempty"`
}
