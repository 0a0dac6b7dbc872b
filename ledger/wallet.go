package ledger

// Wallet lifecycle (component C4): persona registration's three-phase
// dance, recovery from a passphrase, passphrase export, and grant
// fetch/claim. Grounded on bat_client.cc's BatClient::registerPersona /
// recoverWallet / getGrant / setGrant call chains, restructured as
// Go callback-chained methods the way core/idwallet_registration.go chains
// ledger_->RunIOTask continuations back onto its own dispatcher.

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Wallet drives the persona/grant operations of a single installation
// against one operator and one persisted State.
type Wallet struct {
	state      *State
	operator   *OperatorClient
	oracle     CredentialOracle
	dispatcher *Dispatcher
	currency   string
	testMode   bool
	log        *logrus.Entry
}

// NewWallet builds a Wallet. testMode mirrors bat_client.cc's
// ignore_for_testing(): when true, a null master user token from the oracle
// does not fail registration (spec §4.4 Phase B).
func NewWallet(state *State, operator *OperatorClient, oracle CredentialOracle, dispatcher *Dispatcher, currency string, testMode bool, log *logrus.Entry) *Wallet {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Wallet{state: state, operator: operator, oracle: oracle, dispatcher: dispatcher, currency: currency, testMode: testMode, log: log}
}

type phaseAResult struct {
	preFlight string
	proof     string
}

// RegisterPersona runs the full persona registration dance (spec §4.4):
// Phase A (credential request) chained into Phase B (persona submission).
// The returned channel receives exactly one terminal error; on success it is
// an *Error carrying ResultWalletCreated.
func (w *Wallet) RegisterPersona(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	w.operator.RegistrarPersona(ctx, func(reg PersonaRegistrar, err error) {
		if err != nil {
			done <- err
			return
		}
		w.phaseA(ctx, reg, done)
	})
	return done
}

func (w *Wallet) phaseA(ctx context.Context, reg PersonaRegistrar, done chan<- error) {
	persona := w.state.Persona()
	if persona.PersonaID == "" {
		persona.PersonaID = uuid.NewString()
	}
	userID, err := stripAndDrop13th(persona.PersonaID)
	if err != nil {
		done <- newError(ResultBadRegistrationResponse, err)
		return
	}
	persona.UserID = userID
	persona.RegistrarVK = reg.RegistrarVK
	w.state.SetPersona(persona)

	w.dispatcher.RunIOTask(
		func() (any, error) {
			preFlight, err := w.oracle.MakeCred(userID)
			if err != nil {
				return nil, err
			}
			proof, err := w.oracle.RegisterUserMessage(preFlight, reg.RegistrarVK)
			if err != nil {
				return nil, err
			}
			if preFlight == "" || proof == "" {
				return nil, fmt.Errorf("credential oracle rejected phase A for user %s", userID)
			}
			return phaseAResult{preFlight: preFlight, proof: proof}, nil
		},
		func(result any, err error) {
			if err != nil {
				done <- newError(ResultBadRegistrationResponse, err)
				return
			}
			w.phaseB(ctx, userID, reg.RegistrarVK, result.(phaseAResult), done)
		},
	)
}

func (w *Wallet) phaseB(ctx context.Context, userID, registrarVK string, pa phaseAResult, done chan<- error) {
	persona := w.state.Persona()
	persona.PreFlight = pa.preFlight
	w.state.SetPersona(persona)

	seed, err := GenerateSeed()
	if err != nil {
		done <- newError(ResultLedgerError, err)
		return
	}
	secret, err := HKDF(seed)
	if err != nil {
		done <- newError(ResultLedgerError, err)
		return
	}
	pub, signingKey, err := Ed25519FromSecret(secret)
	if err != nil {
		done <- newError(ResultLedgerError, err)
		return
	}

	body := RegisterPersonaRequest{
		Currency:  w.currency,
		Label:     uuid.NewString(),
		PublicKey: hex.EncodeToString(pub),
	}

	w.operator.RegisterPersona(ctx, userID, body, pa.proof, signingKey, func(resp RegisterPersonaResponse, err error) {
		if err != nil {
			done <- err
			return
		}
		w.phaseBFinal(userID, registrarVK, pa, seed, resp, done)
	})
}

func (w *Wallet) phaseBFinal(userID, registrarVK string, pa phaseAResult, seed []byte, resp RegisterPersonaResponse, done chan<- error) {
	w.dispatcher.RunIOTask(
		func() (any, error) {
			return w.oracle.RegisterUserFinal(userID, resp.Verification, pa.preFlight, registrarVK)
		},
		func(result any, err error) {
			if err != nil {
				done <- newError(ResultRegistrationVerificationFailed, err)
				return
			}
			token, _ := result.(string)
			if token == "" && !w.testMode {
				done <- newError(ResultRegistrationVerificationFailed, nil)
				return
			}

			persona := w.state.Persona()
			persona.MasterUserToken = token
			persona.PaymentID = resp.PaymentID
			w.state.SetPersona(persona)

			wallet := w.state.WalletInfo()
			wallet.KeyInfoSeed = seed
			w.state.SetWalletInfo(wallet)

			props := w.state.WalletProperties()
			props.ContributionAmount = resp.FeeAmount
			props.ReconcileDays = resp.Days
			w.state.SetWalletProperties(props)

			now := time.Now().Unix()
			w.state.SetBootStamp(now)
			w.state.SetReconcileStamp(now + int64(resp.Days)*86400)

			w.log.WithField("payment_id", resp.PaymentID).Info("wallet created")
			done <- newError(ResultWalletCreated, nil)
		},
	)
}

// RecoverWallet recovers a wallet from a BIP-39 (24-word) or Niceware
// (16-word, legacy) passphrase (spec §4.4 Recovery). nicewareDict is nil
// unless phrase looks like a Niceware candidate.
func (w *Wallet) RecoverWallet(ctx context.Context, phrase string, nicewareDict NicewareDictionary) <-chan error {
	done := make(chan error, 1)
	w.dispatcher.RunIOTask(
		func() (any, error) {
			if IsNicewareCandidate(phrase) {
				if nicewareDict == nil {
					return nil, fmt.Errorf("%w: niceware dictionary not loaded", ErrInvalidMnemonic)
				}
				return NicewareDecode(phrase, nicewareDict)
			}
			return BIP39Decode(phrase)
		},
		func(result any, err error) {
			if err != nil {
				done <- newError(ResultLedgerError, err)
				return
			}
			seed := result.([]byte)
			w.recoverFromSeed(ctx, seed, done)
		},
	)
	return done
}

func (w *Wallet) recoverFromSeed(ctx context.Context, seed []byte, done chan<- error) {
	secret, err := HKDF(seed)
	if err != nil {
		done <- newError(ResultLedgerError, err)
		return
	}
	pub, _, err := Ed25519FromSecret(secret)
	if err != nil {
		done <- newError(ResultLedgerError, err)
		return
	}
	w.operator.RecoverWallet(ctx, hex.EncodeToString(pub), func(rec RecoverWalletResponse, err error) {
		if err != nil {
			done <- err
			return
		}
		w.operator.WalletProperties(ctx, rec.PaymentID, func(props WalletProperties, err error) {
			if err != nil {
				done <- err
				return
			}
			persona := w.state.Persona()
			persona.PaymentID = rec.PaymentID
			w.state.SetPersona(persona)

			wallet := w.state.WalletInfo()
			wallet.KeyInfoSeed = seed
			w.state.SetWalletInfo(wallet)

			w.state.SetWalletProperties(props)
			done <- nil
		})
	})
}

// ExportPassphrase BIP-39 encodes the stored key_info_seed (spec §4.4
// "Passphrase export"). Returns "" if no seed has been set yet.
func (w *Wallet) ExportPassphrase() (string, error) {
	seed := w.state.WalletInfo().KeyInfoSeed
	if len(seed) != 32 {
		return "", nil
	}
	return BIP39Encode(seed)
}

// FetchGrant fetches the active grant for the wallet's payment id and
// persists it (spec §4.4 "Grants"). lang is passed through unchanged.
func (w *Wallet) FetchGrant(ctx context.Context, lang string) <-chan error {
	done := make(chan error, 1)
	paymentID := w.state.Persona().PaymentID
	w.operator.GetGrant(ctx, paymentID, lang, func(g *Grant, err error) {
		if err != nil {
			done <- err
			return
		}
		w.state.SetGrant(g)
		done <- nil
	})
	return done
}

// ClaimGrant submits a solved captcha to claim the currently-held grant
// (spec §4.4 "Grants"), mapping non-2xx responses per spec §7.
func (w *Wallet) ClaimGrant(ctx context.Context, captcha string) <-chan error {
	done := make(chan error, 1)
	grant := w.state.Grant()
	if grant == nil {
		done <- newError(ResultGrantNotFound, fmt.Errorf("no active grant"))
		return done
	}
	paymentID := w.state.Persona().PaymentID
	w.operator.SetGrant(ctx, paymentID, SetGrantRequest{PromotionID: grant.PromotionID, Captcha: captcha}, func(resp SetGrantResponse, err error) {
		if err != nil {
			done <- err
			return
		}
		w.state.SetGrant(nil)
		done <- nil
	})
	return done
}

// FetchCaptcha fetches the captcha image for the wallet's payment id.
func (w *Wallet) FetchCaptcha(ctx context.Context) <-chan struct {
	Resp CaptchaResponse
	Err  error
} {
	done := make(chan struct {
		Resp CaptchaResponse
		Err  error
	}, 1)
	paymentID := w.state.Persona().PaymentID
	w.operator.Captcha(ctx, paymentID, func(resp CaptchaResponse, err error) {
		done <- struct {
			Resp CaptchaResponse
			Err  error
		}{resp, err}
	})
	return done
}
