package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ChaoticNebula5/Janmitra/internal/config"
	"github.com/ChaoticNebula5/Janmitra/internal/rtc"
)

func TestServer_Healthz(t *testing.T) {
	srv := New(config.Config{}, nil)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", w.Code, w.Body.String())
	}
}

func TestRtcAuthOK(t *testing.T) {
	// Missing expected -> accept
	if !rtcAuthOK(nil, "") {
		t.Fatalf("expected true when expected empty")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !rtcAuthOK(r, "secret") {
		t.Fatalf("expected true with query password")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "tok")
	if !rtcAuthOK(r2, "tok") {
		t.Fatalf("expected true with X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "Bearer abc")
	if !rtcAuthOK(r3, "abc") {
		t.Fatalf("expected true with Authorization bearer")
	}
}

func TestRtcAuthOK_BearerCaseInsensitivePrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer abc")
	if !rtcAuthOK(r, "abc") {
		t.Fatalf("expected true with lowercase bearer prefix")
	}
}

func TestRtcAuthOK_NegativeCases(t *testing.T) {
	r1 := httptest.NewRequest(http.MethodGet, "/?password=wrong", nil)
	if rtcAuthOK(r1, "secret") {
		t.Fatalf("expected false with wrong query token")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "nope")
	if rtcAuthOK(r2, "secret") {
		t.Fatalf("expected false with wrong X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "Bearer nope")
	if rtcAuthOK(r3, "secret") {
		t.Fatalf("expected false with wrong bearer token")
	}
}

func TestOffer_MethodNotAllowed(t *testing.T) {
	srv := New(config.Config{}, nil)
	for _, path := range []string{"/api/offer", "/call"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Router.ServeHTTP(w, r)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, w.Code)
		}
	}
}

func TestOffer_BadJSON(t *testing.T) {
	srv := New(config.Config{}, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOffer_InvalidOfferStartsNothing(t *testing.T) {
	started := 0
	srv := New(config.Config{}, func(*rtc.Connection) { started++ })
	r := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(`{"type":"answer","sdp":""}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if started != 0 {
		t.Fatalf("no session may start for an invalid offer")
	}
}

func TestOffer_Unauthorized(t *testing.T) {
	srv := New(config.Config{AuthPassword: "secret"}, nil)
	// No token provided
	r := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	// Wrong token provided
	r2 := httptest.NewRequest(http.MethodPost, "/call?password=wrong", strings.NewReader("{}"))
	r2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	srv.Router.ServeHTTP(w2, r2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w2.Code)
	}
}

func TestOffer_Preflight(t *testing.T) {
	srv := New(config.Config{AuthPassword: "secret"}, nil)
	r := httptest.NewRequest(http.MethodOptions, "/api/offer", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS headers")
	}
}

func TestIceProvider(t *testing.T) {
	if _, ok := iceProvider(config.Config{}).(rtc.StaticICE); !ok {
		t.Fatalf("expected static ICE without twilio credentials")
	}
	cfg := config.Config{TwilioAccountSID: "AC1", TwilioAuthToken: "tok"}
	if _, ok := iceProvider(cfg).(*rtc.TwilioICE); !ok {
		t.Fatalf("expected twilio ICE with credentials")
	}
}
