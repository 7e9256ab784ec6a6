package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/facilitator"
	"github.com/payrail/x402gate/header"
)

func testRequirement() x402gate.PaymentRequirement {
	return x402gate.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base",
		Asset:             x402gate.BaseMainnet.USDCAddress,
		MaxAmountRequired: "50000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
	}
}

func proofHeaderAt(t *testing.T, nonceMs int64) string {
	t.Helper()
	encoded, err := header.EncodeProof(x402gate.PaymentProof{
		From:      "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		To:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Value:     "50000",
		Network:   "base",
		Nonce:     strconv.FormatInt(nonceMs, 10),
		Signature: "0xsig",
	})
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}

func facilitatorServer(t *testing.T, calls *atomic.Int32, resp facilitator.VerifyResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestVerifySuccess(t *testing.T) {
	var calls atomic.Int32
	server := facilitatorServer(t, &calls, facilitator.VerifyResponse{Reference: "fac-ref", TransactionHash: "0xabc"})
	defer server.Close()

	t0 := time.UnixMilli(1700000000000)
	svc := New(facilitator.NewClient(server.URL), WithClock(func() time.Time { return t0.Add(time.Second) }))

	result := svc.Verify(context.Background(), proofHeaderAt(t, t0.UnixMilli()), testRequirement())
	if result.Status != x402gate.StatusSuccess {
		t.Fatalf("status = %s (%s), want success", result.Status, result.Error)
	}
	if result.Reference != "fac-ref" || result.TransactionHash != "0xabc" || result.Amount != "50000" {
		t.Errorf("unexpected result: %+v", result)
	}
}

// A proof whose nonce+ttl window has passed must fail as expired before the
// facilitator is ever consulted.
func TestVerifyExpiredSkipsFacilitator(t *testing.T) {
	var calls atomic.Int32
	server := facilitatorServer(t, &calls, facilitator.VerifyResponse{Reference: "fac-ref"})
	defer server.Close()

	t0 := int64(1700000000000)
	now := time.UnixMilli(t0 + 300001) // one ms past the ttl=300 window
	svc := New(facilitator.NewClient(server.URL), WithClock(func() time.Time { return now }))

	result := svc.Verify(context.Background(), proofHeaderAt(t, t0), testRequirement())
	if result.Status != x402gate.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "expired") {
		t.Errorf("error = %q, want expiry reason", result.Error)
	}
	if calls.Load() != 0 {
		t.Errorf("facilitator called %d times for an expired proof, want 0", calls.Load())
	}
}

func TestVerifyBoundaryStillFresh(t *testing.T) {
	var calls atomic.Int32
	server := facilitatorServer(t, &calls, facilitator.VerifyResponse{Reference: "r"})
	defer server.Close()

	t0 := int64(1700000000000)
	now := time.UnixMilli(t0 + 300000) // exactly at the boundary: not yet expired
	svc := New(facilitator.NewClient(server.URL), WithClock(func() time.Time { return now }))

	result := svc.Verify(context.Background(), proofHeaderAt(t, t0), testRequirement())
	if result.Status != x402gate.StatusSuccess {
		t.Fatalf("status = %s (%s), want success at boundary", result.Status, result.Error)
	}
}

func TestVerifyMalformedProof(t *testing.T) {
	svc := New(facilitator.NewClient("http://127.0.0.1:1"))
	result := svc.Verify(context.Background(), "not-base64!!!", testRequirement())
	if result.Status != x402gate.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "invalid payment proof") {
		t.Errorf("error = %q, want structural parse failure", result.Error)
	}
}

func TestVerifyFacilitatorRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusPaymentRequired)
	}))
	defer server.Close()

	t0 := time.Now()
	svc := New(facilitator.NewClient(server.URL))
	result := svc.Verify(context.Background(), proofHeaderAt(t, t0.UnixMilli()), testRequirement())
	if result.Status != x402gate.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "402") || !strings.Contains(result.Error, "insufficient funds") {
		t.Errorf("error = %q, want facilitator status and message", result.Error)
	}
}

func TestVerifyFacilitatorUnreachable(t *testing.T) {
	svc := New(facilitator.NewClient("http://127.0.0.1:1", facilitator.WithTimeouts(200*time.Millisecond, time.Second)))
	result := svc.Verify(context.Background(), proofHeaderAt(t, time.Now().UnixMilli()), testRequirement())
	if result.Status != x402gate.StatusFailed {
		t.Fatalf("status = %s, want failed (never hang, never succeed)", result.Status)
	}
}

func TestVerifyFallbackFacilitator(t *testing.T) {
	var fallbackCalls atomic.Int32
	fallbackSrv := facilitatorServer(t, &fallbackCalls, facilitator.VerifyResponse{Reference: "fallback-ref"})
	defer fallbackSrv.Close()

	primary := facilitator.NewClient("http://127.0.0.1:1", facilitator.WithTimeouts(200*time.Millisecond, time.Second))
	svc := New(primary, WithFallback(facilitator.NewClient(fallbackSrv.URL)))

	result := svc.Verify(context.Background(), proofHeaderAt(t, time.Now().UnixMilli()), testRequirement())
	if result.Status != x402gate.StatusSuccess {
		t.Fatalf("status = %s (%s), want success via fallback", result.Status, result.Error)
	}
	if result.Reference != "fallback-ref" {
		t.Errorf("reference = %q", result.Reference)
	}
}

func TestVerifyCacheSkipsSecondCall(t *testing.T) {
	var calls atomic.Int32
	server := facilitatorServer(t, &calls, facilitator.VerifyResponse{Reference: "r1"})
	defer server.Close()

	svc := New(facilitator.NewClient(server.URL), WithCache(time.Minute))
	defer svc.Close()

	proofHdr := proofHeaderAt(t, time.Now().UnixMilli())
	req := testRequirement()

	first := svc.Verify(context.Background(), proofHdr, req)
	second := svc.Verify(context.Background(), proofHdr, req)

	if first.Status != x402gate.StatusSuccess || second.Status != x402gate.StatusSuccess {
		t.Fatalf("statuses = %s/%s, want success/success", first.Status, second.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("facilitator called %d times, want 1 (cache hit)", calls.Load())
	}
	if second.Reference != first.Reference {
		t.Errorf("cache returned a different result")
	}
}

// A cached success must not be honored once the proof's window passes.
func TestVerifyCacheHitRechecksFreshness(t *testing.T) {
	var calls atomic.Int32
	server := facilitatorServer(t, &calls, facilitator.VerifyResponse{Reference: "r1"})
	defer server.Close()

	t0 := time.Now()
	now := t0
	svc := New(facilitator.NewClient(server.URL), WithCache(time.Hour), WithClock(func() time.Time { return now }))
	defer svc.Close()

	proofHdr := proofHeaderAt(t, t0.UnixMilli())
	req := testRequirement()

	if res := svc.Verify(context.Background(), proofHdr, req); res.Status != x402gate.StatusSuccess {
		t.Fatalf("first verify failed: %s", res.Error)
	}

	now = t0.Add(301 * time.Second)
	res := svc.Verify(context.Background(), proofHdr, req)
	if res.Status != x402gate.StatusFailed {
		t.Fatalf("status = %s after expiry, want failed despite cached success", res.Status)
	}
}

func TestFallbackReferenceFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facilitator.VerifyResponse{}) // no reference issued
	}))
	defer server.Close()

	svc := New(facilitator.NewClient(server.URL))
	result := svc.Verify(context.Background(), proofHeaderAt(t, time.Now().UnixMilli()), testRequirement())
	if result.Status != x402gate.StatusSuccess {
		t.Fatalf("status = %s (%s)", result.Status, result.Error)
	}
	parts := strings.Split(result.Reference, "_")
	if len(parts) != 3 || parts[0] != "x402" {
		t.Errorf("reference = %q, want x402_<ms>_<rand>", result.Reference)
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		t.Errorf("reference ms segment %q is not an integer", parts[1])
	}
}
