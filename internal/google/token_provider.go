package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// EnvTokenJSON names the environment variable holding a serialized user token.
const EnvTokenJSON = "GOOGLE_TOKEN_JSON"

// TokenProvider loads the stored user token.
type TokenProvider interface {
	// GetToken returns the stored token. It may be expired.
	GetToken(ctx context.Context) (*oauth2.Token, error)

	// HasToken reports whether a token is available without loading it.
	HasToken() bool
}

// TokenSaver persists refreshed or newly authorized tokens.
type TokenSaver interface {
	SaveToken(token *oauth2.Token) error
}

// storedToken accepts both the golang.org/x/oauth2 token encoding and the
// "authorized user" encoding written by Google's Python and Node libraries.
type storedToken struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Expiry       string `json:"expiry"`
}

// ParseToken decodes a serialized token. Tokens without an expiry are marked
// expired so the first use refreshes them.
func ParseToken(data []byte) (*oauth2.Token, error) {
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: malformed token: %v", ErrCredentials, err)
	}

	token := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
	}
	if token.AccessToken == "" {
		token.AccessToken = st.Token
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token has neither access nor refresh token", ErrCredentials)
	}

	if st.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339Nano, st.Expiry)
		if err != nil {
			// Python writes naive UTC timestamps without a zone suffix.
			expiry, err = time.Parse("2006-01-02T15:04:05.999999", strings.TrimSuffix(st.Expiry, "Z"))
		}
		if err == nil {
			token.Expiry = expiry
		}
	}
	if token.Expiry.IsZero() {
		token.Expiry = time.Unix(1, 0)
	}

	return token, nil
}

// EnvTokenProvider reads the token from an environment variable. Tokens it
// returns are never written back anywhere.
type EnvTokenProvider struct {
	key string
}

// NewEnvTokenProvider creates a provider reading EnvTokenJSON.
func NewEnvTokenProvider() *EnvTokenProvider {
	return &EnvTokenProvider{key: EnvTokenJSON}
}

// GetToken parses the environment variable.
func (p *EnvTokenProvider) GetToken(_ context.Context) (*oauth2.Token, error) {
	raw := strings.TrimSpace(os.Getenv(p.key))
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrCredentials, p.key)
	}
	return ParseToken([]byte(raw))
}

// HasToken reports whether the environment variable is set.
func (p *EnvTokenProvider) HasToken() bool {
	return strings.TrimSpace(os.Getenv(p.key)) != ""
}

// FileTokenProvider reads and writes the token as JSON on disk.
type FileTokenProvider struct {
	path string
}

// NewFileTokenProvider creates a provider for path, or DefaultTokenFile when empty.
func NewFileTokenProvider(path string) *FileTokenProvider {
	if path == "" {
		path = DefaultTokenFile
	}
	return &FileTokenProvider{path: path}
}

// Path returns the token file location.
func (p *FileTokenProvider) Path() string {
	return p.path
}

// GetToken reads the token file.
func (p *FileTokenProvider) GetToken(_ context.Context) (*oauth2.Token, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no token at %s; run the auth command first", ErrCredentials, p.path)
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return ParseToken(data)
}

// HasToken checks if the token file exists.
func (p *FileTokenProvider) HasToken() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// SaveToken writes the token atomically with owner-only permissions.
func (p *FileTokenProvider) SaveToken(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// NewDefaultTokenProvider prefers the environment token and falls back to tokenFile.
func NewDefaultTokenProvider(tokenFile string) TokenProvider {
	if env := NewEnvTokenProvider(); env.HasToken() {
		return env
	}
	return NewFileTokenProvider(tokenFile)
}
