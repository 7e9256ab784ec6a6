package gin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/facilitator"
	"github.com/payrail/x402gate/gate"
	"github.com/payrail/x402gate/header"
	"github.com/payrail/x402gate/verify"
)

func newTestEngine(t *testing.T, facURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g, err := gate.New(gate.Config{
		Requirement: x402gate.PaymentRequirement{
			Scheme:            "exact",
			Network:           "base",
			Asset:             x402gate.BaseMainnet.USDCAddress,
			MaxAmountRequired: "50000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: 300,
		},
		Verifier:    verify.New(facilitator.NewClient(facURL)),
		ExemptPaths: []string{"/health"},
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := gin.New()
	engine.Use(Middleware(g))
	engine.GET("/premium", func(c *gin.Context) {
		if _, ok := c.Get(PaymentKey); !ok {
			t.Error("verification result missing from gin context")
		}
		c.String(http.StatusOK, "premium data")
	})
	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return engine
}

func TestGinMiddlewareChallenge(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facilitator.VerifyResponse{Reference: "ref-1"})
	}))
	defer fac.Close()

	engine := newTestEngine(t, fac.URL)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	challenge, err := header.DecodeChallenge(rec.Header().Get(header.Payment))
	if err != nil {
		t.Fatalf("challenge header undecodable: %v", err)
	}
	if challenge.Currency != "USDC" {
		t.Errorf("challenge currency = %q, want USDC", challenge.Currency)
	}
}

func TestGinMiddlewareForwardsVerifiedRequest(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facilitator.VerifyResponse{Reference: "ref-1", TransactionHash: "0xabc"})
	}))
	defer fac.Close()

	engine := newTestEngine(t, fac.URL)

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
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	receipt, err := header.DecodeReceipt(rec.Header().Get(header.PaymentResponse))
	if err != nil {
		t.Fatalf("receipt header undecodable: %v", err)
	}
	if receipt.Status != x402gate.ReceiptStatusSuccess {
		t.Errorf("receipt status = %q, want success", receipt.Status)
	}
}

func TestGinMiddlewareRejectionIsNot500(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnprocessableEntity)
	}))
	defer fac.Close()

	engine := newTestEngine(t, fac.URL)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(header.Payment, "not-a-proof")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("rejection body not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Error("rejection body missing error field")
	}
}

func TestGinMiddlewareExemptPath(t *testing.T) {
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("facilitator should not be called for exempt paths")
	}))
	defer fac.Close()

	engine := newTestEngine(t, fac.URL)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
