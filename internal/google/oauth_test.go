package google

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testCredentialsJSON = `{
  "installed": {
    "client_id": "123.apps.googleusercontent.com",
    "client_secret": "file-secret",
    "auth_uri": "https://accounts.google.com/o/oauth2/auth",
    "token_uri": "https://oauth2.googleapis.com/token",
    "redirect_uris": ["http://localhost"]
  }
}`

func TestOAuthConfig(t *testing.T) {
	dir := t.TempDir()
	credentials := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(credentials, []byte(testCredentialsJSON), 0o600))

	tests := []struct {
		name         string
		clientID     string
		clientSecret string
		file         string
		wantClientID string
		wantErr      error
	}{
		{
			name:         "explicit client wins over file",
			clientID:     "env-id",
			clientSecret: "env-secret",
			file:         credentials,
			wantClientID: "env-id",
		},
		{
			name:         "credentials file",
			file:         credentials,
			wantClientID: "123.apps.googleusercontent.com",
		},
		{
			name:         "id without secret falls back to file",
			clientID:     "env-id",
			file:         credentials,
			wantClientID: "123.apps.googleusercontent.com",
		},
		{
			name:    "missing file",
			file:    filepath.Join(dir, "nope.json"),
			wantErr: ErrCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := OAuthConfig(tt.clientID, tt.clientSecret, tt.file)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantClientID, cfg.ClientID)
			assert.Equal(t, DefaultOAuthScopes, cfg.Scopes)
		})
	}
}

func TestOAuthConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := OAuthConfig("", "", path)
	require.Error(t, err)
}

func TestHTTPClient_ForcesHTTP1(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc"})
	client := HTTPClient(t.Context(), ts)

	transport, ok := client.Transport.(*oauth2.Transport)
	require.True(t, ok)
	base, ok := transport.Base.(*http.Transport)
	require.True(t, ok)
	assert.False(t, base.ForceAttemptHTTP2)
}

func newTokenEndpoint(t *testing.T, accessToken string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","refresh_token":"1//issued","expires_in":3600}`, accessToken)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAuthorizeInstalledApp(t *testing.T) {
	tokenSrv, calls := newTokenEndpoint(t, "ya29.exchanged")
	config := &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: tokenSrv.URL},
		Scopes:       DefaultOAuthScopes,
	}

	prompt := func(authURL string) {
		u, err := url.Parse(authURL)
		if err != nil {
			t.Errorf("parse auth url: %v", err)
			return
		}
		q := u.Query()
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?state=" + q.Get("state") + "&code=4/abc")
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := AuthorizeInstalledApp(ctx, config, prompt)
	require.NoError(t, err)
	assert.Equal(t, "ya29.exchanged", token.AccessToken)
	assert.Equal(t, "1//issued", token.RefreshToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthorizeInstalledApp_Denied(t *testing.T) {
	config := &oauth2.Config{
		ClientID: "id",
		Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: "http://127.0.0.1:1/token"},
	}

	prompt := func(authURL string) {
		u, _ := url.Parse(authURL)
		q := u.Query()
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?state=" + q.Get("state") + "&error=access_denied")
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := AuthorizeInstalledApp(ctx, config, prompt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestAuthorizeInstalledApp_ContextCancelled(t *testing.T) {
	config := &oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example/auth"}}
	ctx, cancel := context.WithCancel(context.Background())

	_, err := AuthorizeInstalledApp(ctx, config, func(string) { cancel() })
	require.ErrorIs(t, err, context.Canceled)
}
