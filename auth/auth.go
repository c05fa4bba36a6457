// Package auth obtains and caches bearer tokens using the OAuth2 client
// credentials grant.
//
// A token is fetched by Authenticate and reused until the caller decides
// to Refresh it, typically after a push is rejected with 401 or 403. The
// identity provider does not always report an expiry, so staleness is
// mostly detected from rejected requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/sergioferragut/from-kafka-to-polaris/sender"
)

// DefaultTokenURLTemplate is the Imply identity endpoint. {org} is
// replaced with the organization name.
const DefaultTokenURLTemplate = "https://id.imply.io/auth/realms/{org}/protocol/openid-connect/token"

const orgPlaceholder = "{org}"

var (
	// ErrAuth is wrapped by every Authenticate failure.
	ErrAuth = errors.New("authentication failed")
	// ErrNotAuthenticated is returned before the first successful
	// Authenticate.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Config holds the client credentials.
type Config struct {
	TokenURLTemplate string
	Org              string
	ClientID         string
	ClientSecret     string
}

// Authenticator owns the access token for one credential set.
type Authenticator struct {
	tokenURL     string
	clientID     string
	clientSecret string
	sender       sender.Sender
	logger       *zap.Logger
	now          func() time.Time

	mu    sync.RWMutex
	token *oauth2.Token
}

var _ oauth2.TokenSource = (*Authenticator)(nil)

// New validates cfg and builds the token endpoint URL.
func New(cfg Config, s sender.Sender, logger *zap.Logger) (*Authenticator, error) {
	tokenURL, err := TokenURL(cfg.TokenURLTemplate, cfg.Org)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("auth: nil sender")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		tokenURL:     tokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		sender:       s,
		logger:       logger.Named("auth"),
		now:          time.Now,
	}, nil
}

// TokenURL substitutes org into template. An empty template means
// DefaultTokenURLTemplate.
func TokenURL(template, org string) (string, error) {
	if template == "" {
		template = DefaultTokenURLTemplate
	}
	if org == "" {
		return "", errors.New("auth: organization is required")
	}
	if !strings.Contains(template, orgPlaceholder) {
		return "", fmt.Errorf("auth: token url template %q has no %s placeholder", template, orgPlaceholder)
	}
	u := strings.ReplaceAll(template, orgPlaceholder, org)
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		return "", fmt.Errorf("auth: token url %q: %w", u, sender.ErrInvalidURL)
	}
	return u, nil
}

// Authenticate exchanges the client credentials for an access token. On
// failure the previously cached token, if any, is kept.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	out, err := a.sender.Send(ctx, sender.Request{
		URL:    a.tokenURL,
		Method: http.MethodPost,
		Params: map[string]string{
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"grant_type":    "client_credentials",
		},
		Encoding: sender.EncodingForm,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	switch out.Kind {
	case sender.TransportFailed:
		return fmt.Errorf("%w: token request: %w", ErrAuth, out.Err)
	case sender.Rejected:
		return fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuth, out.Status, strings.TrimSpace(out.Body))
	}

	body := out.Object()
	access, _ := body["access_token"].(string)
	if access == "" {
		return fmt.Errorf("%w: response has no access_token", ErrAuth)
	}

	tok := &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
	}
	if secs, ok := body["expires_in"].(float64); ok && secs > 0 {
		tok.Expiry = a.now().Add(time.Duration(secs) * time.Second)
	}

	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()

	a.logger.Info("access token acquired", zap.Time("expiry", tok.Expiry))
	return nil
}

// Refresh replaces the cached token. It must not run while a push is in
// flight.
func (a *Authenticator) Refresh(ctx context.Context) error {
	return a.Authenticate(ctx)
}

// Token implements oauth2.TokenSource.
func (a *Authenticator) Token() (*oauth2.Token, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == nil {
		return nil, ErrNotAuthenticated
	}
	tok := *a.token
	return &tok, nil
}

// Authenticated reports whether a token has been acquired.
func (a *Authenticator) Authenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != nil
}

// Expired reports whether the token carries an expiry that has passed.
// Tokens without an expiry never report expired.
func (a *Authenticator) Expired() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == nil || a.token.Expiry.IsZero() {
		return false
	}
	return !a.token.Expiry.After(a.now())
}

// Headers returns the Authorization header for the current token, or an
// empty map when there is none. The map is a fresh copy.
func (a *Authenticator) Headers() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == nil {
		return map[string]string{}
	}
	return map[string]string{
		"Authorization": a.token.Type() + " " + a.token.AccessToken,
	}
}

// IsAuthFailure reports whether an outcome means the token was refused.
func IsAuthFailure(out sender.Outcome) bool {
	return out.Kind == sender.Rejected &&
		(out.Status == http.StatusUnauthorized || out.Status == http.StatusForbidden)
}
