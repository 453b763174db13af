package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: fmt.Sprintf("token-%d", n),
			ExpiresIn:   expiresIn,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCache_RequestsClientCredentials(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		want := map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "cid",
			"client_secret": "csecret",
			"scope":         graphScope,
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("%s: got %q, want %q", k, got, v)
			}
		}
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "access", ExpiresIn: 3600})
	}))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())
	token, err := tc.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "access" {
		t.Errorf("token: got %q, want %q", token, "access")
	}
}

func TestTokenCache_CachesUntilExpiry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)

	tc := newTokenCache(srv.URL, "cid", "csecret", srv.Client())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tc.now = func() time.Time { return now }

	ctx := context.Background()
	first, _ := tc.Token(ctx)
	second, _ := tc.Token(ctx)
	if first != second || calls.Load() != 1 {
		t.Fatalf("expected one cached token, got %q/%q after %d calls", first, second, calls.Load())
	}

	// Inside the expiry buffer the token is treated as expired.
	now = now.Add(56 * time.Minute)
	third, _ := tc.Token(ctx)
	if third == first || calls.Load() != 2 {
		t.Errorf("expected refresh near expiry, got %q after %d calls", third, calls.Load())
	}
}

func TestTokenCache_Invalidate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)
	tc := newTokenCache(srv.URL, "cid", "csecret", srv.Client())

	ctx := context.Background()
	first, _ := tc.Token(ctx)
	refreshed, err := tc.Invalidate(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed == first {
		t.Errorf("expected a new token after Invalidate")
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestTokenCache_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"non-200", http.StatusUnauthorized, `{"error":"invalid_client"}`, "token endpoint returned 401"},
		{"bad json", http.StatusOK, `not json`, "failed to parse token response"},
		{"empty token", http.StatusOK, `{"access_token":""}`, "missing access_token"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTokenCache(srv.URL, "cid", "cs", srv.Client()).Token(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTokenCache_ConcurrentSingleFetch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)
	tc := newTokenCache(srv.URL, "cid", "csecret", srv.Client())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tc.Token(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}
