package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const appJWTLifetime = 9 * time.Minute

// TokenResolver resolves the credential used for a repository's API calls.
// A connecting user's OAuth token is preferred; system-initiated work
// (webhooks, sweeps) and repositories without a linked user fall back to a
// short-lived GitHub App installation token. Installation tokens are cached
// per installation and only re-fetched once expired.
type TokenResolver struct {
	appID      int64
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	sources map[int64]oauth2.TokenSource
}

// NewTokenResolver parses the PEM-encoded App private key and returns a
// resolver for the given App ID.
func NewTokenResolver(appID int64, privateKeyPEM, baseURL string) (*TokenResolver, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse GitHub App private key: %w", err)
	}
	return &TokenResolver{
		appID:      appID,
		privateKey: key,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sources:    map[int64]oauth2.TokenSource{},
	}, nil
}

// Resolve returns a token source for the repository. userToken, when
// non-empty, is the connecting user's OAuth token and wins over the
// installation credential.
func (r *TokenResolver) Resolve(installationID int64, userToken string) oauth2.TokenSource {
	if userToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: userToken})
	}
	return r.ForInstallation(installationID)
}

// ForInstallation returns the cached, self-refreshing token source for one
// installation.
func (r *TokenResolver) ForInstallation(installationID int64) oauth2.TokenSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.sources[installationID]; ok {
		return ts
	}
	// ReuseTokenSource handles the TTL: Token() is only called again once the
	// cached token's Expiry (minus its skew) has passed.
	ts := oauth2.ReuseTokenSource(nil, &installationTokenSource{resolver: r, installationID: installationID})
	r.sources[installationID] = ts
	return ts
}

// installationTokenSource exchanges an App JWT for an installation access
// token. It implements oauth2.TokenSource.
type installationTokenSource struct {
	resolver       *TokenResolver
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	appJWT, err := s.resolver.mintAppJWT()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.resolver.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := s.resolver.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("installation token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("installation token request for installation %d returned %d", s.installationID, resp.StatusCode)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode installation token response: %w", err)
	}

	return &oauth2.Token{
		AccessToken: body.Token,
		TokenType:   "Bearer",
		// One minute of skew so a token is never used at the edge of its TTL.
		Expiry: body.ExpiresAt.Add(-1 * time.Minute),
	}, nil
}

// mintAppJWT signs the short-lived RS256 JWT GitHub requires for App
// authentication. Issued-at is backdated 60s against clock drift.
func (r *TokenResolver) mintAppJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", r.appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(r.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}
