// Package fakeoperator is a gorilla/mux-backed stand-in for the ledger
// operator (spec §6's HTTP surface), used by integration-style tests of
// wallet/reconcile/ballot flows. It is test scaffolding, not a spec'd
// operator implementation — adapted, with its controller/middleware split
// inverted from client-side to server-side, from walletserver's
// routes.Register/WalletController/middleware.Logger shape.
package fakeoperator

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is an in-memory operator double. State mutations are guarded by mu
// so tests can drive it from multiple goroutines if needed.
type Server struct {
	mu sync.Mutex

	RegistrarVK      string
	PersonaVerify    string
	MasterUserToken  string
	PaymentID        string
	SurveyorID       string
	SurveyorIDs      []string
	Balance          float64
	Probi            string
	FeeAmount        float64
	Days             int
	UnsignedTx       string
	Destination      string
	SurveyorDocs     []json.RawMessage
	VoteAcks         map[string]bool
	GrantPromotionID string
	GrantProbi       string
	GrantClaimStatus int
	CaptchaHint      string
	CaptchaImage     []byte

	LastRegisterPersonaBody    []byte
	LastRegisterPersonaHeaders http.Header

	httpServer *httptest.Server
}

// New builds a Server with reasonable defaults and starts listening. Call
// Close when done; URL() returns the base URL to configure as
// config.Operator.BaseURL.
func New() *Server {
	s := &Server{
		RegistrarVK:     "RVK1",
		PersonaVerify:   "verify-1",
		MasterUserToken: "master-token-1",
		PaymentID:       "pid-xyz",
		SurveyorID:      "surveyor-1",
		Balance:         100,
		Probi:           "1000000000000000000",
		FeeAmount:       10,
		Days:            30,
		UnsignedTx:      `{"amount":"10","currency":"BAT"}`,
		Destination:     "deadbeef",
		VoteAcks:        make(map[string]bool),
	}
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	s.routes(r)
	s.httpServer = httptest.NewServer(r)
	return s
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithField("elapsed", time.Since(start)).Debugf("fakeoperator %s %s", r.Method, r.URL.Path)
	})
}

// URL is the base URL (no trailing slash, no /v2 suffix) of the running server.
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts the underlying httptest.Server down.
func (s *Server) Close() { s.httpServer.Close() }

func (s *Server) routes(r *mux.Router) {
	v2 := r.PathPrefix("/v2").Subrouter()
	v2.HandleFunc("/registrar/persona", s.registrarPersona).Methods(http.MethodGet)
	v2.HandleFunc("/registrar/persona/{userID}", s.registerPersona).Methods(http.MethodPost)
	v2.HandleFunc("/wallet/{id}", s.walletByID).Methods(http.MethodGet, http.MethodPut)
	v2.HandleFunc("/wallet", s.recoverWallet).Methods(http.MethodGet)
	v2.HandleFunc("/registrar/viewing", s.registerViewing).Methods(http.MethodGet)
	v2.HandleFunc("/registrar/viewing/{anonizeViewingID}", s.viewingCredentials).Methods(http.MethodPost)
	v2.HandleFunc("/batch/surveyor/voting/{anonizeViewingID}", s.prepareBatch).Methods(http.MethodGet)
	v2.HandleFunc("/batch/surveyor/voting", s.voteBatch).Methods(http.MethodPost)
	v2.HandleFunc("/promotions", s.getGrant).Methods(http.MethodGet)
	v2.HandleFunc("/promotions/{paymentID}", s.setGrant).Methods(http.MethodPut)
	v2.HandleFunc("/captchas/{paymentID}", s.captcha).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) registrarPersona(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"registrarVK": s.RegistrarVK})
}

func (s *Server) registerPersona(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastRegisterPersonaBody = body
	s.LastRegisterPersonaHeaders = r.Header.Clone()
	writeJSON(w, http.StatusOK, map[string]any{
		"verification": s.PersonaVerify,
		"paymentId":    s.PaymentID,
		"currency":     "BAT",
		"fee_amount":   s.FeeAmount,
		"days":         s.Days,
	})
}

func (s *Server) walletByID(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		if amount := r.URL.Query().Get("amount"); amount != "" {
			writeJSON(w, http.StatusOK, map[string]string{
				"unsignedTx":  s.UnsignedTx,
				"destination": s.Destination,
				"amount":      amount,
				"currency":    r.URL.Query().Get("altcurrency"),
			})
			return
		}
		if r.URL.Query().Get("refresh") != "" {
			// Reconcile start (no amount param yet) vs wallet-properties refresh
			// are disambiguated by path shape in the real operator; here we
			// reuse surveyorId presence as the reconcile signal.
			writeJSON(w, http.StatusOK, map[string]any{
				"surveyorId": s.SurveyorID,
				"balance":    s.Balance,
				"probi":      s.Probi,
				"grants":     []any{},
				"rates":      map[string]float64{"USD": 0.25},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"balance": s.Balance,
			"probi":   s.Probi,
			"grants":  []any{},
			"rates":   map[string]float64{"USD": 0.25},
		})
	case http.MethodPut:
		writeJSON(w, http.StatusOK, map[string]any{
			"probi":        s.Probi,
			"fiatAmount":   10.0,
			"fiatCurrency": "USD",
			"rates":        map[string]float64{"USD": 0.25},
		})
	}
}

func (s *Server) recoverWallet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"paymentId": s.PaymentID})
}

func (s *Server) registerViewing(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"registrarVK": s.RegistrarVK})
}

func (s *Server) viewingCredentials(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"verification": s.MasterUserToken,
		"surveyorIds":  s.SurveyorIDs,
	})
}

func (s *Server) prepareBatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.SurveyorDocs)
}

func (s *Server) voteBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Publisher string `json:"publisher"`
		Batch     []struct {
			SurveyorID string `json:"surveyorId"`
		} `json:"batch"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	type ack struct {
		SurveyorID string `json:"surveyorId"`
		Error      string `json:"error,omitempty"`
	}
	var out []ack
	for _, e := range body.Batch {
		if s.VoteAcks == nil || s.VoteAcks[e.SurveyorID] {
			out = append(out, ack{SurveyorID: e.SurveyorID})
		} else {
			out = append(out, ack{SurveyorID: e.SurveyorID, Error: "not acknowledged"})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getGrant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GrantPromotionID == "" {
		http.Error(w, "no grant", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"promotion_id": s.GrantPromotionID,
		"probi":        s.GrantProbi,
		"expiry_time":  time.Now().Add(24 * time.Hour).Unix(),
		"type":         "ugp",
	})
}

func (s *Server) setGrant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GrantClaimStatus != 0 && s.GrantClaimStatus != http.StatusOK {
		http.Error(w, "grant claim rejected", s.GrantClaimStatus)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"probi": s.GrantProbi})
}

func (s *Server) captcha(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("captcha-hint", s.CaptchaHint)
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(s.CaptchaImage)
}
