package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	chirouter "github.com/go-chi/chi/v5"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/facilitator"
	"github.com/payrail/x402gate/gate"
	"github.com/payrail/x402gate/header"
	"github.com/payrail/x402gate/verify"
)

func newTestRouter(t *testing.T, facURL string) *chirouter.Mux {
	t.Helper()
	g, err := gate.New(gate.Config{
		Requirement: x402gate.PaymentRequirement{
			Scheme:            "exact",
			Network:           "base",
			Asset:             x402gate.BaseMainnet.USDCAddress,
			MaxAmountRequired: "50000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: 300,
		},
		Verifier: verify.New(facilitator.NewClient(facURL)),
	})
	if err != nil {
		t.Fatal(err)
	}

	r := chirouter.NewRouter()
	r.Use(Middleware(g))
	r.Get("/premium", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("premium data"))
	})
	return r
}

func TestChiMiddlewareChallenge(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facilitator.VerifyResponse{Reference: "ref-1"})
	}))
	defer fac.Close()

	router := newTestRouter(t, fac.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if rec.Header().Get(header.Payment) == "" {
		t.Error("challenge header missing")
	}
}

func TestChiMiddlewareForwardsVerifiedRequest(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facilitator.VerifyResponse{Reference: "ref-1", TransactionHash: "0xabc"})
	}))
	defer fac.Close()

	router := newTestRouter(t, fac.URL)

	proof, err := header.EncodeProof(x402gate.PaymentProof{
		From:      "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		To:        "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Value:     "50000",
		Network:   "base",
		Nonce:     strconv.FormatInt(time.Now().UnixMilli(), 10),
		Signature: "0xsig",
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(header.Payment, proof)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "premium data" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get(header.PaymentResponse) == "" {
		t.Error("receipt header missing")
	}
}

func TestChiMiddlewareBypassesPreflight(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("facilitator should not be called for OPTIONS")
	}))
	defer fac.Close()

	router := newTestRouter(t, fac.URL)
	router.Options("/premium", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/premium", nil))

	if rec.Code == http.StatusPaymentRequired {
		t.Fatal("OPTIONS request was payment-gated")
	}
}
