package ledger

import (
	"errors"
	"fmt"
)

// Result enumerates the outcome kinds the ledger client surfaces to callers,
// mirroring the braveledger_bat_client/bat_contribution result codes this
// package's protocol steps are grounded on.
type Result int

const (
	// ResultLedgerOK indicates an operation completed successfully.
	ResultLedgerOK Result = iota
	// ResultWalletCreated indicates persona registration completed and a new
	// wallet now exists.
	ResultWalletCreated
	// ResultBadRegistrationResponse indicates the registrar response was
	// missing an expected field or otherwise malformed.
	ResultBadRegistrationResponse
	// ResultRegistrationVerificationFailed indicates the blinded-credential
	// oracle rejected the registrar's verification.
	ResultRegistrationVerificationFailed
	// ResultLedgerError is the catch-all transport/parse failure result.
	ResultLedgerError
	// ResultCaptchaFailed indicates a grant claim was rejected with HTTP 403.
	ResultCaptchaFailed
	// ResultGrantNotFound indicates a grant claim was rejected with HTTP 404/410.
	ResultGrantNotFound
)

func (r Result) String() string {
	switch r {
	case ResultLedgerOK:
		return "LEDGER_OK"
	case ResultWalletCreated:
		return "WALLET_CREATED"
	case ResultBadRegistrationResponse:
		return "BAD_REGISTRATION_RESPONSE"
	case ResultRegistrationVerificationFailed:
		return "REGISTRATION_VERIFICATION_FAILED"
	case ResultLedgerError:
		return "LEDGER_ERROR"
	case ResultCaptchaFailed:
		return "CAPTCHA_FAILED"
	case ResultGrantNotFound:
		return "GRANT_NOT_FOUND"
	default:
		return "UNKNOWN_RESULT"
	}
}

// Error wraps a Result with the underlying cause, if any, so callers can both
// branch on the Result and %w-unwrap to the root error.
type Error struct {
	Result Result
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Result.String()
	}
	return fmt.Sprintf("%s: %v", e.Result, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error, wrapping err for later unwrapping.
func newError(r Result, err error) *Error {
	return &Error{Result: r, Err: err}
}

// ResultOf returns the Result carried by err if err is (or wraps) an *Error,
// and ok=false otherwise.
func ResultOf(err error) (Result, bool) {
	if err == nil {
		return ResultLedgerOK, true
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Result, true
	}
	return ResultLedgerError, false
}
