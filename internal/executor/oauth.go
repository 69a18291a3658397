package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sungwon/mail-agent/internal/metrics"
	"github.com/sungwon/mail-agent/internal/task"
)

const (
	tokenURLFmt       = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	defaultTenant     = "common"
	defaultScope      = "https://outlook.office365.com/.default"
	tokenExpiryBuffer = 5 * time.Minute
)

// TokenManager handles the OAuth2 refresh-token flow for SMTP/IMAP
// accounts. Access tokens are cached per account and refreshed when
// expired or about to expire.
type TokenManager struct {
	mu     sync.Mutex
	client HTTPClient
	cache  map[int64]cachedToken
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// NewTokenManager creates a TokenManager using the given HTTP client for
// token endpoint requests.
func NewTokenManager(client HTTPClient) *TokenManager {
	return &TokenManager{
		client: client,
		cache:  make(map[int64]cachedToken),
	}
}

// GetToken returns a valid access token for the account, refreshing it if
// none is cached or the cached token is near expiry. A refresh failure is
// terminal for the calling task; the manager never retries internally.
func (tm *TokenManager) GetToken(ctx context.Context, acct *task.SMTPAccount) (string, error) {
	if acct.OAuth == nil {
		return "", fmt.Errorf("oauth2: account %s has no oauth credentials", acct.Email)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tok, ok := tm.cache[acct.ID]; ok && time.Now().Before(tok.expiresAt.Add(-tokenExpiryBuffer)) {
		return tok.accessToken, nil
	}

	token, expiresIn, err := tm.refresh(ctx, acct.OAuth)
	if err != nil {
		metrics.OAuthRefreshTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.OAuthRefreshTotal.WithLabelValues("success").Inc()

	tm.cache[acct.ID] = cachedToken{
		accessToken: token,
		expiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}

	return token, nil
}

// Invalidate clears the cached token for an account, forcing a refresh on
// the next call.
func (tm *TokenManager) Invalidate(accountID int64) {
	tm.mu.Lock()
	delete(tm.cache, accountID)
	tm.mu.Unlock()
}

// refresh exchanges the refresh token for a new access token.
func (tm *TokenManager) refresh(ctx context.Context, creds *task.OAuthCredentials) (string, int, error) {
	tenant := creds.Tenant
	if tenant == "" {
		tenant = defaultTenant
	}

	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("grant_type", "refresh_token")
	form.Set("scope", defaultScope)
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	resp, err := tm.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    fmt.Sprintf(tokenURLFmt, tenant),
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return "", 0, fmt.Errorf("oauth2: token request: %w", err)
	}

	if resp.StatusCode != 200 {
		return "", 0, fmt.Errorf("oauth2: token request returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("oauth2: parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("oauth2: empty access token in response")
	}

	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
