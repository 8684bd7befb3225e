package webhooks

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestComputeSignatureDeterministic(t *testing.T) {
	form := map[string][]string{
		"CallSid": {"CA1"},
		"From":    {"+15550009999"},
	}
	u := "https://voice.example.com/webhooks/voice?tenant=t1&line=l1"

	a := ComputeSignature("secret", u, form)
	b := ComputeSignature("secret", u, form)
	if a != b {
		t.Error("signature must be deterministic")
	}
	if a == ComputeSignature("other", u, form) {
		t.Error("different tokens must sign differently")
	}
	if a == ComputeSignature("secret", u, map[string][]string{"CallSid": {"CA2"}}) {
		t.Error("different forms must sign differently")
	}
}

func signedRequest(t *testing.T, token, base, path string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, ComputeSignature(token, base+path, map[string][]string(form)))
	return req
}

func TestVerifySignature(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := VerifySignature("secret", "https://voice.example.com/", zerolog.Nop())(ok)
	form := url.Values{"CallSid": {"CA1"}}

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, signedRequest(t, "secret", "https://voice.example.com", "/webhooks/voice?tenant=t1", form))
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature rejected: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, signedRequest(t, "wrong", "https://voice.example.com", "/webhooks/voice?tenant=t1", form))
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad signature accepted: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unsigned request accepted: %d", rec.Code)
	}
}

func TestVerifySignatureDisabledWithoutToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := VerifySignature("", "https://voice.example.com", zerolog.Nop())(ok)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", nil)
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("empty token must disable verification: %d", rec.Code)
	}
}
