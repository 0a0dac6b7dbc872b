package ledger

// The blinded-credential ("anonize2") oracle is treated as an opaque,
// CPU-bound collaborator per spec.md §1/§4.1/§9: its real implementation is
// out of scope, its input/output shape is not. CredentialOracle pins that
// shape as a Go interface so wallet/ballot code depends on a contract, not a
// concrete FFI binding; stubOracle below is a deterministic reference
// implementation good enough to drive the rest of the pipeline in tests and
// in the CLI harness. Per the §9 design note on owned FFI buffers, the
// interface returns plain Go strings/errors — there is no buffer to free.

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrOracleRejected names an oracle rejection as a Go error. stubOracle does
// not return it: every stub method signals rejection with an empty string
// and a nil error, matching the oracle's null-on-failure contract, so
// callers check for the empty string, not for this error.
var ErrOracleRejected = errors.New("anonize: oracle rejected request")

// CredentialOracle is the blinded-credential primitive contract from
// spec.md §4.1. All four methods are CPU-bound; callers MUST invoke them via
// a worker (ledger.Dispatcher.RunIOTask), never on the I/O dispatcher.
type CredentialOracle interface {
	// MakeCred returns a pre-flight credential for the given 31-octet id.
	MakeCred(id string) (preFlight string, err error)
	// RegisterUserMessage returns a blinded proof for the pre-flight
	// credential against the registrar's verification key.
	RegisterUserMessage(preFlight, registrarVK string) (proof string, err error)
	// RegisterUserFinal exchanges the registrar's verification response for
	// a master user token. Returns "" (not an error) if the oracle rejects
	// verification, per spec §4.1.
	RegisterUserFinal(id, verification, preFlight, registrarVK string) (masterUserToken string, err error)
	// SubmitMessage blindly co-signs msg for one surveyor. Returns "" (not
	// an error) if the oracle rejects the request, per spec §4.1.
	SubmitMessage(msg, masterUserToken, registrarVK, surveyorSignature, surveyorID, surveyorVK string) (proof string, err error)
}

// stubOracle is a deterministic, non-cryptographically-unlinkable reference
// implementation: it derives every output via HMAC-SHA256 chains keyed on
// the inputs, so the same inputs always produce the same outputs (useful for
// tests) without attempting to model anonize2's actual blinding math.
type stubOracle struct{}

// NewStubCredentialOracle returns the reference CredentialOracle used when no
// real anonize2 binding is wired in — e.g. in the CLI harness and in tests.
func NewStubCredentialOracle() CredentialOracle { return stubOracle{} }

func hmacHex(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (stubOracle) MakeCred(id string) (string, error) {
	if id == "" {
		return "", nil
	}
	return "preflight:" + hmacHex("anonize-preflight", id), nil
}

func (stubOracle) RegisterUserMessage(preFlight, registrarVK string) (string, error) {
	if preFlight == "" || registrarVK == "" {
		return "", nil
	}
	return "proof:" + hmacHex(registrarVK, preFlight), nil
}

func (stubOracle) RegisterUserFinal(id, verification, preFlight, registrarVK string) (string, error) {
	if id == "" || verification == "" || preFlight == "" || registrarVK == "" {
		return "", nil
	}
	return "mut:" + hmacHex(preFlight, id+"|"+verification+"|"+registrarVK), nil
}

func (stubOracle) SubmitMessage(msg, masterUserToken, registrarVK, surveyorSignature, surveyorID, surveyorVK string) (string, error) {
	if msg == "" || masterUserToken == "" || surveyorSignature == "" || surveyorVK == "" {
		return "", nil
	}
	return "vote-proof:" + hmacHex(masterUserToken, msg+"|"+surveyorID+"|"+surveyorSignature+"|"+surveyorVK), nil
}
