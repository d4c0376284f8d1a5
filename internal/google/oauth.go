package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultCredentialsFile is the OAuth client secret downloaded from the Google Cloud console.
	DefaultCredentialsFile = "credentials.json"

	// DefaultTokenFile is where the user token is persisted after authorization.
	DefaultTokenFile = "token.json"
)

// ErrCredentials is returned when no usable Google credentials are available.
var ErrCredentials = errors.New("google credentials unavailable")

// OAuthConfig returns the OAuth2 client configuration. Explicit client
// credentials take precedence over the credentials file.
func OAuthConfig(clientID, clientSecret, credentialsFile string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       DefaultOAuthScopes,
		}, nil
	}

	if credentialsFile == "" {
		credentialsFile = DefaultCredentialsFile
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found; set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or provide the file", ErrCredentials, credentialsFile)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, DefaultOAuthScopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}
	return config, nil
}

// AuthorizeInstalledApp runs the installed-application flow: it listens on a
// loopback port, prints the consent URL through prompt and exchanges the code
// delivered to the redirect.
func AuthorizeInstalledApp(ctx context.Context, config *oauth2.Config, prompt func(url string)) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open loopback listener: %w", err)
	}

	cfg := *config
	cfg.RedirectURL = fmt.Sprintf("http://%s/", listener.Addr().String())

	state, err := randomState()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				http.Error(w, "authorization denied", http.StatusForbidden)
				sendResult(results, result{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
				return
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			_, _ = fmt.Fprintln(w, "Authorization complete. You can close this window.")
			sendResult(results, result{code: q.Get("code")})
		}),
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Debug("oauth callback server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	prompt(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		token, err := cfg.Exchange(ctx, res.code)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange auth code: %w", err)
		}
		return token, nil
	}
}

func sendResult[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HTTPClient returns an HTTP client authorized by ts.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors.
func HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	client := oauth2.NewClient(ctx, ts)
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			ForceAttemptHTTP2: false,
		}
	}
	return client
}
