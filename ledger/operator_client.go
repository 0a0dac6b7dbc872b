package ledger

// OperatorClient (component C6's HTTP surface, spec §6): one method per row
// of the operator endpoint table. Every method builds a Request, issues it
// through a Transport/RequestHandler pair, and parses the JSON response into
// a typed struct with encoding/json, which ignores unrecognized fields so
// they never break decoding (spec §9 parsing note). Grounded on bat_client.cc's
// buildURL/LoadURL call sites (one per exported method here) plus
// core/storage.go's http-client-wraps-json-response shape.

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
)

// OperatorClient is the typed RPC surface to the ledger operator.
type OperatorClient struct {
	transport Transport
	handler   *RequestHandler
	baseURL   string
	keyID     string
}

// NewOperatorClient builds a client against baseURL (e.g. config.Operator.BaseURL),
// using transport/handler for the actual round trips. keyID is the value
// embedded in every HTTP-Signature header ("primary" in spec §6's example).
func NewOperatorClient(transport Transport, handler *RequestHandler, baseURL, keyID string) *OperatorClient {
	return &OperatorClient{transport: transport, handler: handler, baseURL: baseURL, keyID: keyID}
}

func (c *OperatorClient) url(format string, args ...any) string {
	return c.baseURL + "/v2" + fmt.Sprintf(format, args...)
}

// signedJSONRequest builds a POST/PUT with a canonical JSON body, a digest
// header, and an HTTP-Signature header over that digest (spec §6's
// "HTTP-Signature body" block). extraHeaders are attached to the request
// as-is and play no part in the digest/signature — a caller-supplied value
// that must travel alongside the signed body without being covered by it
// (e.g. the persona registration proof, spec §4.4) belongs there, not in
// body.
func signedJSONRequest(method, url string, body any, keyID string, signingKey ed25519.PrivateKey, extraHeaders map[string]string) (Request, error) {
	octets, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("operator: marshal request body: %w", err)
	}
	digestValue := Digest(octets)
	sig := SignDigestHeader(digestValue, keyID, signingKey)
	headers := map[string]string{
		"digest":    digestValue,
		"signature": sig,
	}
	for k, v := range extraHeaders {
		headers[k] = v
	}
	return Request{
		Method:      method,
		URL:         url,
		Body:        octets,
		ContentType: "application/json",
		Headers:     headers,
	}, nil
}

// --- Register A: GET /v2/registrar/persona ------------------------------

// PersonaRegistrar is the registrar's response to the persona registration
// challenge (Register A).
type PersonaRegistrar struct {
	RegistrarVK string          `json:"registrarVK"`
	Raw         json.RawMessage `json:"-"`
}

func (c *OperatorClient) RegistrarPersona(ctx context.Context, cb func(PersonaRegistrar, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/registrar/persona")}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(PersonaRegistrar{}, newError(ResultLedgerError, fmt.Errorf("registrar persona: request failed")))
			return
		}
		var out PersonaRegistrar
		if err := json.Unmarshal(res.Body, &out); err != nil || out.RegistrarVK == "" {
			cb(PersonaRegistrar{}, newError(ResultBadRegistrationResponse, err))
			return
		}
		out.Raw = res.Body
		cb(out, nil)
	})
}

// --- Register B: POST /v2/registrar/persona/{user_id} -------------------

// RegisterPersonaRequest is the body submitted to complete persona
// registration — exactly {currency, label, publicKey} (spec §4.4, §8
// scenario 1). The phase-A proof travels alongside this body as an
// unsigned "proof" header (see RegisterPersona), never as a body field: the
// digest/signature must cover only these three keys.
type RegisterPersonaRequest struct {
	Currency  string `json:"currency"`
	Label     string `json:"label"`
	PublicKey string `json:"publicKey"`
}

// RegisterPersonaResponse carries the registrar's verification payload and
// the fully-formed wallet info it hands back once the persona exists.
type RegisterPersonaResponse struct {
	Verification string  `json:"verification"`
	PaymentID    string  `json:"paymentId"`
	Currency     string  `json:"currency"`
	FeeAmount    float64 `json:"fee_amount"`
	Days         int     `json:"days"`
}

// RegisterPersona completes Register B. proof is the phase-A registrar
// proof (bat_client.cc's REQUEST_CREDENTIALS_ST.proof_); it rides an
// unsigned "proof" header rather than the digested body so the digest
// matches spec §8 scenario 1's literal 3-key JSON exactly.
func (c *OperatorClient) RegisterPersona(ctx context.Context, userID string, body RegisterPersonaRequest, proof string, signingKey ed25519.PrivateKey, cb func(RegisterPersonaResponse, error)) {
	req, err := signedJSONRequest(http.MethodPost, c.url("/registrar/persona/%s", userID), body, c.keyID, signingKey, map[string]string{"proof": proof})
	if err != nil {
		cb(RegisterPersonaResponse{}, newError(ResultBadRegistrationResponse, err))
		return
	}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(RegisterPersonaResponse{}, newError(ResultLedgerError, fmt.Errorf("register persona: request failed")))
			return
		}
		var out RegisterPersonaResponse
		if err := json.Unmarshal(res.Body, &out); err != nil || out.Verification == "" {
			cb(RegisterPersonaResponse{}, newError(ResultBadRegistrationResponse, err))
			return
		}
		cb(out, nil)
	})
}

// --- Wallet props: GET /v2/wallet/{paymentId} ----------------------------

func (c *OperatorClient) WalletProperties(ctx context.Context, paymentID string, cb func(WalletProperties, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/wallet/%s?refresh=true", paymentID)}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(WalletProperties{}, newError(ResultLedgerError, fmt.Errorf("wallet properties: request failed")))
			return
		}
		var out WalletProperties
		if err := json.Unmarshal(res.Body, &out); err != nil {
			cb(WalletProperties{}, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Recover: GET /v2/wallet?publicKey=hex -------------------------------

// RecoverWalletResponse maps a recovered public key back to its payment id.
type RecoverWalletResponse struct {
	PaymentID string `json:"paymentId"`
}

func (c *OperatorClient) RecoverWallet(ctx context.Context, publicKeyHex string, cb func(RecoverWalletResponse, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/wallet?publicKey=%s", publicKeyHex)}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(RecoverWalletResponse{}, newError(ResultLedgerError, fmt.Errorf("recover wallet: request failed")))
			return
		}
		var out RecoverWalletResponse
		if err := json.Unmarshal(res.Body, &out); err != nil || out.PaymentID == "" {
			cb(RecoverWalletResponse{}, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Reconcile: GET /v2/wallet/{userId} (reconcile base) -----------------

// ReconcileResponse carries the surveyor id a reconcile was assigned.
type ReconcileResponse struct {
	SurveyorID string `json:"surveyorId"`
}

func (c *OperatorClient) Reconcile(ctx context.Context, userID string, cb func(ReconcileResponse, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/wallet/%s?refresh=true", userID)}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(ReconcileResponse{}, newError(ResultLedgerError, fmt.Errorf("reconcile: request failed")))
			return
		}
		var out ReconcileResponse
		if err := json.Unmarshal(res.Body, &out); err != nil || out.SurveyorID == "" {
			cb(ReconcileResponse{}, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Current: GET /v2/wallet/{paymentId}?refresh=true&amount=&altcurrency= --

// UnsignedTx is the operator's proposed, not-yet-signed reconcile transaction.
type UnsignedTx struct {
	Octets      string `json:"unsignedTx"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

func (c *OperatorClient) Current(ctx context.Context, paymentID, amount, altCurrency string, cb func(UnsignedTx, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/wallet/%s?refresh=true&amount=%s&altcurrency=%s", paymentID, amount, altCurrency)}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(UnsignedTx{}, newError(ResultLedgerError, fmt.Errorf("current: request failed")))
			return
		}
		var out UnsignedTx
		if err := json.Unmarshal(res.Body, &out); err != nil {
			cb(UnsignedTx{}, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Payload: PUT /v2/wallet/{paymentId} ---------------------------------

// SignedTxEnvelope is the signed-transaction envelope embedded in a
// PayloadRequest: digest/signature headers computed over octets exactly as
// in Phase A (spec §4.5 "Request-signing at PAYLOAD step"), carried inside
// the body rather than as top-level HTTP headers.
type SignedTxEnvelope struct {
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Octets  string            `json:"octets"`
}

// PayloadRequest is the signed transaction submitted back to the operator
// (spec §4.5's `{requestType, signedtx, viewingId, surveyorId}` body).
type PayloadRequest struct {
	RequestType string           `json:"requestType"`
	SignedTx    SignedTxEnvelope `json:"signedtx"`
	ViewingID   string           `json:"viewingId"`
	SurveyorID  string           `json:"surveyorId"`
}

// PayloadResponse is the operator's acknowledgement of a submitted payload.
type PayloadResponse struct {
	ProbiAmount  string             `json:"probi"`
	FiatAmount   float64            `json:"fiatAmount"`
	FiatCurrency string             `json:"fiatCurrency"`
	Rates        map[string]float64 `json:"rates"`
}

// Payload submits a reconcile's signed transaction. Unlike RegisterPersona,
// signing happens inside body.SignedTx before this call — the PUT itself
// carries no separate outer HTTP-Signature headers.
func (c *OperatorClient) Payload(ctx context.Context, paymentID string, body PayloadRequest, cb func(PayloadResponse, error)) {
	octets, err := json.Marshal(body)
	if err != nil {
		cb(PayloadResponse{}, newError(ResultLedgerError, err))
		return
	}
	req := Request{Method: http.MethodPut, URL: c.url("/wallet/%s", paymentID), Body: octets, ContentType: "application/json"}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(PayloadResponse{}, newError(ResultLedgerError, fmt.Errorf("payload: request failed")))
			return
		}
		var out PayloadResponse
		if err := json.Unmarshal(res.Body, &out); err != nil {
			cb(PayloadResponse{}, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Register viewing: GET /v2/registrar/viewing ------------------------

func (c *OperatorClient) RegisterViewing(ctx context.Context, cb func(PersonaRegistrar, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/registrar/viewing")}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(PersonaRegistrar{}, newError(ResultLedgerError, fmt.Errorf("register viewing: request failed")))
			return
		}
		var out PersonaRegistrar
		if err := json.Unmarshal(res.Body, &out); err != nil || out.RegistrarVK == "" {
			cb(PersonaRegistrar{}, newError(ResultLedgerError, err))
			return
		}
		out.Raw = res.Body
		cb(out, nil)
	})
}

// --- Viewing creds: POST /v2/registrar/viewing/{anonizeViewingId} --------

// ViewingCredsRequest submits the viewing proof to obtain surveyor ids.
type ViewingCredsRequest struct {
	Proof string `json:"proof"`
}

// ViewingCredsResponse carries the master user token and the surveyor ids
// this reconcile's ballots will be drawn against.
type ViewingCredsResponse struct {
	Verification    string   `json:"verification"`
	SurveyorIDs     []string `json:"surveyorIds"`
}

func (c *OperatorClient) ViewingCredentials(ctx context.Context, anonizeViewingID string, body ViewingCredsRequest, cb func(ViewingCredsResponse, error)) {
	octets, err := json.Marshal(body)
	if err != nil {
		cb(ViewingCredsResponse{}, newError(ResultLedgerError, err))
		return
	}
	req := Request{Method: http.MethodPost, URL: c.url("/registrar/viewing/%s", anonizeViewingID), Body: octets, ContentType: "application/json"}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(ViewingCredsResponse{}, newError(ResultLedgerError, fmt.Errorf("viewing credentials: request failed")))
			return
		}
		var out ViewingCredsResponse
		if err := json.Unmarshal(res.Body, &out); err != nil || out.Verification == "" {
			cb(ViewingCredsResponse{}, newError(ResultRegistrationVerificationFailed, err))
			return
		}
		cb(out, nil)
	})
}

// --- Prepare batch: GET /v2/batch/surveyor/voting/{anonizeViewingId} ----

// PrepareBatch returns the raw per-surveyor JSON documents (spec §4.6
// prepareBatch); entries carrying "error" are skipped by the caller, not
// here.
func (c *OperatorClient) PrepareBatch(ctx context.Context, anonizeViewingID string, cb func([]json.RawMessage, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/batch/surveyor/voting/%s", anonizeViewingID)}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(nil, newError(ResultLedgerError, fmt.Errorf("prepare batch: request failed")))
			return
		}
		var docs []json.RawMessage
		if err := json.Unmarshal(res.Body, &docs); err != nil {
			cb(nil, newError(ResultLedgerError, err))
			return
		}
		cb(docs, nil)
	})
}

// --- Vote batch: POST /v2/batch/surveyor/voting --------------------------

// VoteBatchRequest is one publisher's slice of proofs submitted for voting.
type VoteBatchRequest struct {
	Publisher string              `json:"publisher"`
	Batch     []VoteBatchRequestEl `json:"batch"`
}

// VoteBatchRequestEl is one surveyor/proof pair inside a VoteBatchRequest.
type VoteBatchRequestEl struct {
	SurveyorID string `json:"surveyorId"`
	Proof      string `json:"proof"`
}

// VoteBatchResponseEl is one acknowledged (or errored) surveyor in the
// server's response to a vote batch submission.
type VoteBatchResponseEl struct {
	SurveyorID string `json:"surveyorId"`
	Error      string `json:"error,omitempty"`
}

func (c *OperatorClient) VoteBatch(ctx context.Context, body VoteBatchRequest, cb func([]VoteBatchResponseEl, error)) {
	octets, err := json.Marshal(body)
	if err != nil {
		cb(nil, newError(ResultLedgerError, err))
		return
	}
	req := Request{Method: http.MethodPost, URL: c.url("/batch/surveyor/voting"), Body: octets, ContentType: "application/json"}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(nil, newError(ResultLedgerError, fmt.Errorf("vote batch: request failed")))
			return
		}
		var out []VoteBatchResponseEl
		if err := json.Unmarshal(res.Body, &out); err != nil {
			cb(nil, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Grant get: GET /v2/promotions?paymentId=&lang= ----------------------

func (c *OperatorClient) GetGrant(ctx context.Context, paymentID, lang string, cb func(*Grant, error)) {
	req := Request{Method: http.MethodGet, URL: c.url("/promotions?paymentId=%s&lang=%s", paymentID, lang)}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(nil, newError(ResultGrantNotFound, fmt.Errorf("get grant: request failed")))
			return
		}
		var out Grant
		if err := json.Unmarshal(res.Body, &out); err != nil || out.PromotionID == "" {
			cb(nil, newError(ResultGrantNotFound, err))
			return
		}
		cb(&out, nil)
	})
}

// --- Grant claim: PUT /v2/promotions/{paymentId} -------------------------

// SetGrantRequest submits the captcha solution to claim an active grant.
type SetGrantRequest struct {
	PromotionID string `json:"promotionId"`
	Captcha     string `json:"captcha"`
}

// SetGrantResponse carries the probi credited by a successful grant claim.
type SetGrantResponse struct {
	Probi string `json:"probi"`
}

func (c *OperatorClient) SetGrant(ctx context.Context, paymentID string, body SetGrantRequest, cb func(SetGrantResponse, error)) {
	octets, err := json.Marshal(body)
	if err != nil {
		cb(SetGrantResponse{}, newError(ResultLedgerError, err))
		return
	}
	req := Request{Method: http.MethodPut, URL: c.url("/promotions/%s", paymentID), Body: octets, ContentType: "application/json"}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			switch res.StatusCode {
			case http.StatusForbidden:
				cb(SetGrantResponse{}, newError(ResultCaptchaFailed, fmt.Errorf("set grant: captcha rejected")))
			case http.StatusNotFound, http.StatusGone:
				cb(SetGrantResponse{}, newError(ResultGrantNotFound, fmt.Errorf("set grant: grant not found")))
			default:
				cb(SetGrantResponse{}, newError(ResultLedgerError, fmt.Errorf("set grant: request failed")))
			}
			return
		}
		var out SetGrantResponse
		if err := json.Unmarshal(res.Body, &out); err != nil {
			cb(SetGrantResponse{}, newError(ResultLedgerError, err))
			return
		}
		cb(out, nil)
	})
}

// --- Captcha: GET /v2/captchas/{paymentId} -------------------------------

// CaptchaResponse carries the raw image bytes and the hint header the
// operator returns alongside it.
type CaptchaResponse struct {
	Image []byte
	Hint  string
}

func (c *OperatorClient) Captcha(ctx context.Context, paymentID string, cb func(CaptchaResponse, error)) {
	req := Request{
		Method:  http.MethodGet,
		URL:     c.url("/captchas/%s", paymentID),
		Headers: map[string]string{"brave-product": "brave-core"},
	}
	c.transport.LoadURL(ctx, req, c.handler, func(res RequestResult) {
		if !res.OK {
			cb(CaptchaResponse{}, newError(ResultLedgerError, fmt.Errorf("captcha: request failed")))
			return
		}
		cb(CaptchaResponse{Image: res.Body, Hint: res.Headers.Get("captcha-hint")}, nil)
	})
}
