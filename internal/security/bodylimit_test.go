package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func bodyLimitHandler(t *testing.T, max int64, seen *[]byte) http.Handler {
	t.Helper()
	return BodyLimit{Max: max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if seen != nil {
			*seen = data
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func errorCodeFromBody(t *testing.T, body *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

func TestBodyLimitPreservesRawBytesForVerification(t *testing.T) {
	payload := `{"type":"checkout.session.completed"}`
	var seen []byte
	handler := bodyLimitHandler(t, 1024, &seen)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if string(seen) != payload {
		t.Fatalf("downstream body differs from the wire bytes: %q", seen)
	}
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	handler := bodyLimitHandler(t, 8, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader("0123456789abcdef"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if code := errorCodeFromBody(t, rr); code != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %q", code)
	}
}

func TestBodyLimitTrustsDeclaredContentLength(t *testing.T) {
	handler := bodyLimitHandler(t, 8, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader("tiny"))
	req.ContentLength = 4096
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for declared oversized body, got %d", rr.Code)
	}
}

func TestBodyLimitDisabledWhenMaxUnset(t *testing.T) {
	var seen []byte
	handler := bodyLimitHandler(t, 0, &seen)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/db", strings.NewReader(strings.Repeat("x", 4096)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with limit disabled, got %d", rr.Code)
	}
	if len(seen) != 4096 {
		t.Fatalf("expected full body through, got %d bytes", len(seen))
	}
}
