package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q, want refresh-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantRefresh string
	}{
		{"rotated refresh token", `{"access_token":"access-2","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-2"}`, "refresh-2"},
		{"refresh token kept", `{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`, "refresh-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := tokenServer(t, http.StatusOK, tt.body)
			r := NewRefresher(ClientConfig{}, ClientConfig{ClientID: "id", ClientSecret: "secret", TokenURL: ts.URL}, zap.NewNop())

			before := time.Now()
			token, err := r.Refresh(context.Background(), core.ProviderOutlook, "refresh-1")
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if token.AccessToken != "access-2" || token.RefreshToken != tt.wantRefresh {
				t.Errorf("token = %+v", token)
			}
			if token.Expiry.Before(before.Add(59 * time.Minute)) {
				t.Errorf("Expiry = %v, want about an hour ahead", token.Expiry)
			}
		})
	}
}

func TestRefreshRejected(t *testing.T) {
	ts := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	r := NewRefresher(ClientConfig{ClientID: "id", ClientSecret: "secret", TokenURL: ts.URL}, ClientConfig{}, zap.NewNop())

	if _, err := r.Refresh(context.Background(), core.ProviderGmail, "refresh-1"); err == nil {
		t.Fatal("Refresh() error = nil, want invalid_grant")
	}
}

func TestRefreshUnconfiguredProvider(t *testing.T) {
	r := NewRefresher(ClientConfig{}, ClientConfig{}, zap.NewNop())
	if r.Configured(core.ProviderGmail) {
		t.Error("Configured(gmail) = true without credentials")
	}
	_, err := r.Refresh(context.Background(), core.ProviderGmail, "x")
	if !errors.Is(err, core.ErrUnsupportedProvider) {
		t.Fatalf("Refresh() error = %v, want ErrUnsupportedProvider", err)
	}
}
