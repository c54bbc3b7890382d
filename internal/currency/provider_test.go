package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderFetchRates(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/USD", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"success","rates":{"EUR":0.85,"JPY":147.6,"usd":1}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewHTTPProvider(server.URL, 100)
	rates, err := p.FetchRates(context.Background(), "usd")
	if err != nil {
		t.Fatalf("FetchRates() error = %v", err)
	}
	if gotPath != "/latest/USD" {
		t.Errorf("request path = %q, want /latest/USD", gotPath)
	}
	if !rates["EUR"].Equal(d("0.85")) {
		t.Errorf("EUR rate = %s, want 0.85", rates["EUR"])
	}
	if !rates["JPY"].Equal(d("147.6")) {
		t.Errorf("JPY rate = %s, want 147.6", rates["JPY"])
	}
	// Lower-case keys in the response are normalized.
	if _, ok := rates["USD"]; !ok {
		t.Error("usd key should be normalized to USD")
	}
}

func TestHTTPProviderErrorResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"error","error-type":"unsupported-code"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL, 100)
	if _, err := p.FetchRates(context.Background(), "ZZZ"); err == nil {
		t.Error("FetchRates() expected error for unsuccessful result")
	}
}

func TestHTTPProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL, 100)
	if _, err := p.FetchRates(context.Background(), "USD"); err == nil {
		t.Error("FetchRates() expected error for 500 response")
	}
}
