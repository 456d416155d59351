package dbhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSelectVerifier(t *testing.T) {
	if _, err := SelectVerifier("", "secret"); err != nil {
		t.Fatalf("default verifier: %v", err)
	}
	if _, err := SelectVerifier("shared-secret", "secret"); err != nil {
		t.Fatalf("named verifier: %v", err)
	}
	if _, err := SelectVerifier("Shared-Secret", "secret"); err != nil {
		t.Fatalf("case-insensitive verifier: %v", err)
	}
	if _, err := SelectVerifier("", ""); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if _, err := SelectVerifier("vault-hmac", "secret"); err == nil {
		t.Fatal("expected error for unknown verifier name")
	}
}

func TestSharedSecretVerifier(t *testing.T) {
	v := SharedSecretVerifier{Secret: "secret"}
	body := []byte(`{"table":"users","op":"INSERT"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/db", nil)
	req.Header.Set("X-Webhook-Signature", sign("secret", body))
	if err := v.Verify(req, body); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	req.Header.Set("X-Webhook-Signature", sign("other", body))
	if err := v.Verify(req, body); err == nil {
		t.Fatal("expected mismatch error")
	}

	req.Header.Del("X-Webhook-Signature")
	if err := v.Verify(req, body); err == nil {
		t.Fatal("expected missing header error")
	}
}

type stubChangeLog struct {
	tables []string
	err    error
}

func (s *stubChangeLog) InsertDBChangeEvent(_ context.Context, table, _ string, _ []byte) error {
	s.tables = append(s.tables, table)
	return s.err
}

func TestHandlerHandle(t *testing.T) {
	changes := &stubChangeLog{}
	h := Handler{
		Verifier: SharedSecretVerifier{Secret: "secret"},
		Changes:  changes,
		Log:      zerolog.Nop(),
	}

	body := `{"table":"subscriptions","op":"UPDATE","record":{"id":"sub_1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/db", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("secret", []byte(body)))
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(changes.tables) != 1 || changes.tables[0] != "subscriptions" {
		t.Fatalf("unexpected recorded tables: %v", changes.tables)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/db", strings.NewReader(body))
	bad.Header.Set("X-Webhook-Signature", "deadbeef")
	rr = httptest.NewRecorder()
	h.Handle(rr, bad)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	malformed := `{"op":"UPDATE"}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/db", strings.NewReader(malformed))
	req.Header.Set("X-Webhook-Signature", sign("secret", []byte(malformed)))
	rr = httptest.NewRecorder()
	h.Handle(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing table, got %d", rr.Code)
	}
}
