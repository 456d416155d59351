package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events?page=3&limit=10", nil)
	page, perPage := ParsePagination(req, 20, 100)
	if page != 3 || perPage != 10 {
		t.Fatalf("unexpected pagination: page=%d perPage=%d", page, perPage)
	}

	req = httptest.NewRequest(http.MethodGet, "/events?limit=9999", nil)
	page, perPage = ParsePagination(req, 20, 100)
	if page != 1 || perPage != 100 {
		t.Fatalf("expected clamped pagination, got page=%d perPage=%d", page, perPage)
	}

	req = httptest.NewRequest(http.MethodGet, "/events?page=-1&limit=abc", nil)
	page, perPage = ParsePagination(req, 20, 100)
	if page != 1 || perPage != 20 {
		t.Fatalf("expected defaults, got page=%d perPage=%d", page, perPage)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks", nil)
	req.RemoteAddr = "10.0.0.9:4431"
	if ip := ClientIP(req); ip != "10.0.0.9" {
		t.Fatalf("unexpected ip %q", ip)
	}

	req.Header.Set("X-Real-IP", "198.51.100.4")
	if ip := ClientIP(req); ip != "198.51.100.4" {
		t.Fatalf("unexpected ip %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := ClientIP(req); ip != "203.0.113.7" {
		t.Fatalf("unexpected ip %q", ip)
	}
}

func TestSha256Hex(t *testing.T) {
	if got := Sha256Hex([]byte("")); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected digest %q", got)
	}
	if Sha256Hex([]byte("a")) == Sha256Hex([]byte("b")) {
		t.Fatal("distinct inputs must not collide")
	}
}

func TestJSONErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	JSONError(rr, http.StatusConflict, "REPLAY", "duplicate webhook", map[string]any{"provider": "stripe"})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if body.Error.Code != "REPLAY" || body.Error.Message != "duplicate webhook" {
		t.Fatalf("unexpected envelope %+v", body.Error)
	}
	if body.Error.Details["provider"] != "stripe" {
		t.Fatalf("unexpected details %+v", body.Error.Details)
	}
}
