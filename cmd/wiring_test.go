package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
)

const testClientSecret = `{"installed":{"client_id":"calagent-test","client_secret":"secret",` +
	`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",` +
	`"redirect_uris":["http://localhost"]}}`

func testDeps() deps {
	return deps{
		logger:  slog.New(slog.DiscardHandler),
		metrics: &instrumentation.Metrics{},
	}
}

func TestCalendarConnector_RetriesAfterMissingCredentials(t *testing.T) {
	t.Setenv(google.EnvTokenJSON, "")
	dir := t.TempDir()
	gcfg := GoogleConfig{
		CredentialsFile: filepath.Join(dir, "credentials.json"),
		TokenFile:       filepath.Join(dir, "token.json"),
	}

	connect := calendarConnector(context.Background(), gcfg, testDeps())

	_, err := connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, google.ErrCredentials)

	require.NoError(t, os.WriteFile(gcfg.CredentialsFile, []byte(testClientSecret), 0o600))
	token := fmt.Sprintf(`{"access_token":"ya29.test","token_type":"Bearer","refresh_token":"1//refresh","expiry":%q}`,
		time.Now().Add(time.Hour).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(gcfg.TokenFile, []byte(token), 0o600))

	inserter, err := connect(context.Background())
	require.NoError(t, err, "credentials added after the first failure must be picked up")
	assert.NotNil(t, inserter)
}

func TestLazyTokenSource(t *testing.T) {
	builds := 0
	want := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test"})
	l := &lazyTokenSource{build: func() (oauth2.TokenSource, error) {
		builds++
		if builds == 1 {
			return nil, errors.New("credentials not found")
		}
		return want, nil
	}}

	_, err := l.get()
	require.Error(t, err)

	got, err := l.get()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = l.get()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, builds, "a successful build is cached")
}
