// Package gatewaytest runs an in-process payment gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/smallbiznis/enrollment/internal/gateway"
)

const (
	MerchantID = "merchant-test"
	Secret     = "gateway-test-secret"
)

// ChargeBehavior decides the reply to one charge call. Returning a status
// of 0 makes the server hang until the client gives up.
type ChargeBehavior func(req ChargeCall) (status int, body map[string]any)

type ChargeCall struct {
	Reference string `json:"reference"`
	Token     string `json:"token"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type Server struct {
	*httptest.Server

	signer *gateway.Signer

	mu        sync.Mutex
	sessions  []map[string]any
	charges   []ChargeCall
	completed map[string]map[string]any
	behaviors map[string]ChargeBehavior
	fallback  ChargeBehavior
	txnSeq    int
}

func NewServer(t testing.TB) *Server {
	t.Helper()

	signer, err := gateway.NewSigner(Secret)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	s := &Server{
		signer:    signer,
		completed: make(map[string]map[string]any),
		behaviors: make(map[string]ChargeBehavior),
	}
	s.fallback = Approve
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Config returns client settings pointing at this server.
func (s *Server) Config() gateway.Config {
	return gateway.Config{
		BaseURL:      s.URL,
		MerchantID:   MerchantID,
		SharedSecret: Secret,
	}
}

// OnToken scripts replies for charges against one token.
func (s *Server) OnToken(token string, behavior ChargeBehavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[token] = behavior
}

// Complete records a charge as already processed without a call, as if an
// earlier request reached the gateway but its reply was lost.
func (s *Server) Complete(reference string, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[reference] = body
}

func (s *Server) Charges() []ChargeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChargeCall, len(s.charges))
	copy(out, s.charges)
	return out
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Callback signs a callback body the way the gateway does when it posts to route.
func (s *Server) Callback(route string, body map[string]any) ([]byte, http.Header) {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("gatewaytest: marshal callback: %v", err))
	}
	headers := http.Header{}
	headers.Set(gateway.CallbackSignatureHeader, s.signer.Sign(route, raw))
	headers.Set("Content-Type", "application/json")
	return raw, headers
}

func Approve(req ChargeCall) (int, map[string]any) {
	return http.StatusOK, map[string]any{"status": "approved", "response_code": "00"}
}

func Decline(req ChargeCall) (int, map[string]any) {
	return http.StatusPaymentRequired, map[string]any{"status": "declined", "response_code": "05", "message": "do not honor"}
}

func Unavailable(req ChargeCall) (int, map[string]any) {
	return http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"code": "maintenance"}}
}

func Hang(req ChargeCall) (int, map[string]any) {
	return 0, nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	route := r.URL.Path
	if r.URL.RawQuery != "" {
		route += "?" + r.URL.RawQuery
	}
	if r.Header.Get("X-Merchant-Id") != MerchantID || !s.signer.Verify(route, body, r.Header.Get("X-Signature")) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": "bad_signature"}})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
		s.handleSession(w, body)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/charges":
		s.handleCharge(w, r, body)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/charges":
		s.handleQuery(w, r.URL.Query().Get("reference"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, body []byte) {
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	s.mu.Lock()
	s.sessions = append(s.sessions, req)
	s.mu.Unlock()

	sessionID := fmt.Sprintf("sess-%v-%v", req["correlation_id"], req["attempt"])
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sessionID,
		"hosted_url": s.URL + "/v1/hosted/pay",
	})
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request, body []byte) {
	var call ChargeCall
	_ = json.Unmarshal(body, &call)

	s.mu.Lock()
	s.charges = append(s.charges, call)
	if prior, ok := s.completed[call.Reference]; ok {
		s.mu.Unlock()
		writeJSON(w, statusFor(prior), prior)
		return
	}
	behavior := s.behaviors[call.Token]
	if behavior == nil {
		behavior = s.fallback
	}
	s.mu.Unlock()

	status, reply := behavior(call)
	if status == 0 {
		<-r.Context().Done()
		return
	}
	if status >= http.StatusInternalServerError {
		writeJSON(w, status, reply)
		return
	}

	s.mu.Lock()
	s.txnSeq++
	reply["transaction_id"] = fmt.Sprintf("TX-%d", s.txnSeq)
	reply["reference"] = call.Reference
	reply["amount"] = call.Amount
	reply["currency"] = call.Currency
	s.completed[call.Reference] = reply
	s.mu.Unlock()

	writeJSON(w, status, reply)
}

func (s *Server) handleQuery(w http.ResponseWriter, reference string) {
	s.mu.Lock()
	prior, ok := s.completed[reference]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": "not_found"}})
		return
	}
	writeJSON(w, http.StatusOK, prior)
}

func statusFor(reply map[string]any) int {
	if reply["status"] == "declined" {
		return http.StatusPaymentRequired
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
