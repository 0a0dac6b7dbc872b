package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brave-intl/ledgerclient/internal/fakeoperator"
)

func newTestWallet(t *testing.T, op *fakeoperator.Server, testMode bool) (*Wallet, *State, *Dispatcher) {
	t.Helper()
	s, err := NewState(NewMemStore())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	dispatcher := NewDispatcher(2)
	t.Cleanup(dispatcher.Close)
	operator := newTestOperator(op.URL())
	w := NewWallet(s, operator, NewStubCredentialOracle(), dispatcher, "BAT", testMode, logrus.NewEntry(logrus.StandardLogger()))
	return w, s, dispatcher
}

func TestRegisterPersonaHappyPath(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()

	w, s, _ := newTestWallet(t, op, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case err := <-w.RegisterPersona(ctx):
		if err == nil {
			t.Fatalf("expected a non-nil terminal error carrying ResultWalletCreated")
		}
		if result, _ := ResultOf(err); result != ResultWalletCreated {
			t.Fatalf("result = %v, want ResultWalletCreated", result)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for registration")
	}

	persona := s.Persona()
	if persona.PersonaID == "" {
		t.Fatalf("expected a generated persona id")
	}
	if len(persona.UserID) != 31 {
		t.Fatalf("user id len = %d, want 31 (stripAndDrop13th of a GUID)", len(persona.UserID))
	}
	if persona.PaymentID != op.PaymentID {
		t.Fatalf("payment id = %q, want %q", persona.PaymentID, op.PaymentID)
	}
	if len(s.WalletInfo().KeyInfoSeed) != 32 {
		t.Fatalf("expected a 32-byte key_info_seed to be persisted")
	}
	props := s.WalletProperties()
	if props.ContributionAmount != op.FeeAmount {
		t.Fatalf("contribution amount = %v, want %v", props.ContributionAmount, op.FeeAmount)
	}
	if s.ReconcileStamp() <= s.BootStamp() {
		t.Fatalf("expected reconcile stamp to be set ahead of boot stamp")
	}
}

// TestRegisterPersonaRequestBodyExcludesProof pins spec §8 scenario 1's
// literal wire shape: the digested/signed body is exactly
// {currency, label, publicKey}, and the phase-A proof never appears in it.
func TestRegisterPersonaRequestBodyExcludesProof(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, _, _ := newTestWallet(t, op, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	<-w.RegisterPersona(ctx)

	var body map[string]any
	if err := json.Unmarshal(op.LastRegisterPersonaBody, &body); err != nil {
		t.Fatalf("unmarshal captured persona body: %v", err)
	}
	if len(body) != 3 {
		t.Fatalf("persona body has %d keys, want exactly 3 (currency, label, publicKey): %v", len(body), body)
	}
	for _, key := range []string{"currency", "label", "publicKey"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("persona body missing %q: %v", key, body)
		}
	}
	if _, ok := body["proof"]; ok {
		t.Fatalf("persona body must not carry proof, got %v", body)
	}

	wantDigest := Digest(op.LastRegisterPersonaBody)
	if got := op.LastRegisterPersonaHeaders.Get("digest"); got != wantDigest {
		t.Fatalf("digest header = %q, want %q (sha-256 of the captured body)", got, wantDigest)
	}
	if proof := op.LastRegisterPersonaHeaders.Get("proof"); proof == "" {
		t.Fatalf("expected the phase-A proof to travel as a separate proof header")
	}
}

func TestRegisterPersonaDerivesUserIDFromPersonaID(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, s, _ := newTestWallet(t, op, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	<-w.RegisterPersona(ctx)

	persona := s.Persona()
	want, err := stripAndDrop13th(persona.PersonaID)
	if err != nil {
		t.Fatalf("stripAndDrop13th: %v", err)
	}
	if persona.UserID != want {
		t.Fatalf("user id = %q, want %q (derived from persona id %q)", persona.UserID, want, persona.PersonaID)
	}
}

func TestRecoverWalletBIP39(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, s, _ := newTestWallet(t, op, false)

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	phrase, err := BIP39Encode(seed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case err := <-w.RecoverWallet(ctx, phrase, nil):
		if err != nil {
			t.Fatalf("recover: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("timed out")
	}

	if s.Persona().PaymentID != op.PaymentID {
		t.Fatalf("payment id = %q, want %q", s.Persona().PaymentID, op.PaymentID)
	}
	if s.WalletProperties().Balance != op.Balance {
		t.Fatalf("balance = %v, want %v", s.WalletProperties().Balance, op.Balance)
	}
	if string(s.WalletInfo().KeyInfoSeed) != string(seed) {
		t.Fatalf("recovered seed does not match the original")
	}
}

func TestRecoverWalletNiceware(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, _, _ := newTestWallet(t, op, false)

	words := []string{
		"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel",
		"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
	}
	dict := make(NicewareDictionary, len(words))
	phrase := ""
	for i, w2 := range words {
		dict[w2] = uint16(i)
		if i > 0 {
			phrase += " "
		}
		phrase += w2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case err := <-w.RecoverWallet(ctx, phrase, dict):
		if err != nil {
			t.Fatalf("recover: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("timed out")
	}
}

func TestRecoverWalletNicewareWithoutDictFails(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, _, _ := newTestWallet(t, op, false)

	phrase := "a b c d e f g h i j k l m n o p"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := <-w.RecoverWallet(ctx, phrase, nil)
	if err == nil {
		t.Fatalf("expected an error when no niceware dictionary is supplied")
	}
}

func TestExportPassphraseEmptyBeforeRegistration(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, _, _ := newTestWallet(t, op, false)

	phrase, err := w.ExportPassphrase()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if phrase != "" {
		t.Fatalf("expected empty passphrase before a wallet exists")
	}
}

func TestExportPassphraseAfterRegistration(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, _, _ := newTestWallet(t, op, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	<-w.RegisterPersona(ctx)

	phrase, err := w.ExportPassphrase()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if phrase == "" {
		t.Fatalf("expected a non-empty passphrase after registration")
	}
	if len(strings.Fields(phrase)) != 24 {
		t.Fatalf("unexpected phrase shape: %q", phrase)
	}
}

func TestFetchAndClaimGrant(t *testing.T) {
	op := fakeoperator.New()
	op.GrantPromotionID = "promo1"
	op.GrantProbi = "5000000000000000000"
	defer op.Close()

	w, s, _ := newTestWallet(t, op, false)
	s.SetPersona(PersonaIdentity{PaymentID: "pid1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := <-w.FetchGrant(ctx, "en"); err != nil {
		t.Fatalf("fetch grant: %v", err)
	}
	g := s.Grant()
	if g == nil || g.PromotionID != "promo1" {
		t.Fatalf("unexpected grant: %+v", g)
	}

	if err := <-w.ClaimGrant(ctx, "captcha-solution"); err != nil {
		t.Fatalf("claim grant: %v", err)
	}
	if s.Grant() != nil {
		t.Fatalf("expected grant to be cleared after a successful claim")
	}
}

func TestClaimGrantWithoutActiveGrant(t *testing.T) {
	op := fakeoperator.New()
	defer op.Close()
	w, _, _ := newTestWallet(t, op, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := <-w.ClaimGrant(ctx, "solution")
	if err == nil {
		t.Fatalf("expected error claiming a grant that was never fetched")
	}
	if result, _ := ResultOf(err); result != ResultGrantNotFound {
		t.Fatalf("result = %v, want ResultGrantNotFound", result)
	}
}

func TestClaimGrantCaptchaRejected(t *testing.T) {
	op := fakeoperator.New()
	op.GrantPromotionID = "promo1"
	op.GrantProbi = "5000000000000000000"
	op.GrantClaimStatus = http.StatusForbidden
	defer op.Close()

	w, s, _ := newTestWallet(t, op, false)
	s.SetPersona(PersonaIdentity{PaymentID: "pid1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := <-w.FetchGrant(ctx, "en"); err != nil {
		t.Fatalf("fetch grant: %v", err)
	}
	err := <-w.ClaimGrant(ctx, "wrong-solution")
	if err == nil {
		t.Fatalf("expected error claiming a grant rejected with 403")
	}
	if result, _ := ResultOf(err); result != ResultCaptchaFailed {
		t.Fatalf("result = %v, want ResultCaptchaFailed", result)
	}
	if s.Grant() == nil {
		t.Fatalf("grant should remain active after a captcha rejection")
	}
}

func TestClaimGrantGone(t *testing.T) {
	op := fakeoperator.New()
	op.GrantPromotionID = "promo1"
	op.GrantProbi = "5000000000000000000"
	op.GrantClaimStatus = http.StatusGone
	defer op.Close()

	w, s, _ := newTestWallet(t, op, false)
	s.SetPersona(PersonaIdentity{PaymentID: "pid1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := <-w.FetchGrant(ctx, "en"); err != nil {
		t.Fatalf("fetch grant: %v", err)
	}
	err := <-w.ClaimGrant(ctx, "solution")
	if err == nil {
		t.Fatalf("expected error claiming a grant the operator reports gone")
	}
	if result, _ := ResultOf(err); result != ResultGrantNotFound {
		t.Fatalf("result = %v, want ResultGrantNotFound", result)
	}
}

func TestFetchCaptcha(t *testing.T) {
	op := fakeoperator.New()
	op.CaptchaHint = "3 letters"
	op.CaptchaImage = []byte{0x89, 0x50, 0x4e, 0x47}
	defer op.Close()

	w, s, _ := newTestWallet(t, op, false)
	s.SetPersona(PersonaIdentity{PaymentID: "pid1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := <-w.FetchCaptcha(ctx)
	if result.Err != nil {
		t.Fatalf("fetch captcha: %v", result.Err)
	}
	if result.Resp.Hint != "3 letters" {
		t.Fatalf("hint = %q, want %q", result.Resp.Hint, "3 letters")
	}
	if string(result.Resp.Image) != string(op.CaptchaImage) {
		t.Fatalf("image bytes mismatch")
	}
}

// TestRegisterPersonaTestModeRejectsEmptyVerification checks that testMode
// does not rescue an empty registrar verification: the Register B response
// decode rejects it with ResultBadRegistrationResponse before the oracle is
// reached, so testMode's tolerance of a null master user token never applies.
func TestRegisterPersonaTestModeRejectsEmptyVerification(t *testing.T) {
	op := fakeoperator.New()
	op.PersonaVerify = "" // forces RegisterPersonaResponse.Verification to be empty
	defer op.Close()

	w, _, _ := newTestWallet(t, op, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := <-w.RegisterPersona(ctx)
	if err == nil {
		t.Fatalf("expected a terminal result")
	}
	if result, _ := ResultOf(err); result != ResultBadRegistrationResponse {
		t.Fatalf("result = %v, want ResultBadRegistrationResponse (empty verification fails decode before oracle is reached)", result)
	}
}
