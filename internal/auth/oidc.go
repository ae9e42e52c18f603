package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/phitk/render/internal/config"
)

const (
	discoveryTimeout = 30 * time.Second
	clockSkew        = 30 * time.Second
)

var ErrNoIssuer = errors.New("oidc issuer is required")

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
	Close() error
}

// accessClaims are the access token claims the render API reads. Scopes
// arrive either as the space separated "scope" claim or as an RBAC
// "permissions" array.
type accessClaims struct {
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (c *accessClaims) identity() *Identity {
	scopes := strings.Fields(c.Scope)
	for _, p := range c.Permissions {
		if !slices.Contains(scopes, p) {
			scopes = append(scopes, p)
		}
	}
	return &Identity{Subject: c.Subject, Email: c.Email, Name: c.Name, Scopes: scopes}
}

// Issuer returns the configured issuer, or https://<domain> when only the
// domain is set.
func Issuer(cfg *config.OIDCConfig) string {
	if cfg.Issuer != "" {
		return strings.TrimSuffix(cfg.Issuer, "/")
	}
	if cfg.Domain != "" {
		return "https://" + strings.TrimSuffix(cfg.Domain, "/")
	}
	return ""
}

// OIDCVerifier checks RS/ES signed access tokens against the issuer's
// published keys. The key set is refreshed in the background until Close.
type OIDCVerifier struct {
	keys   jwt.Keyfunc
	parser *jwt.Parser
	stop   context.CancelFunc
}

// NewOIDCVerifier discovers the issuer's key set. cfg.ClientID, when set, is
// the audience every token must name.
func NewOIDCVerifier(ctx context.Context, cfg *config.OIDCConfig) (*OIDCVerifier, error) {
	issuer := Issuer(cfg)
	if issuer == "" {
		return nil, ErrNoIssuer
	}

	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	jwksURI, err := discover(dctx, http.DefaultClient, issuer)
	cancel()
	if err != nil {
		return nil, err
	}

	// The refresh goroutine lives as long as rctx, not the discovery deadline.
	rctx, stop := context.WithCancel(ctx)
	jwks, err := keyfunc.NewDefaultCtx(rctx, []string{jwksURI})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURI, err)
	}

	v := newOIDCVerifier(jwks.Keyfunc, issuer, cfg.ClientID)
	v.stop = stop
	return v, nil
}

func newOIDCVerifier(keys jwt.Keyfunc, issuer, audience string) *OIDCVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &OIDCVerifier{keys: keys, parser: jwt.NewParser(opts...)}
}

// discover reads the issuer's openid-configuration and returns its jwks_uri.
// The document must name the same issuer it was fetched from.
func discover(ctx context.Context, hc *http.Client, issuer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("oidc discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oidc discovery: status %d", resp.StatusCode)
	}

	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("oidc discovery: %w", err)
	}
	if strings.TrimSuffix(doc.Issuer, "/") != issuer {
		return "", fmt.Errorf("oidc discovery: issuer %q does not match %q", doc.Issuer, issuer)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("oidc discovery: no jwks_uri")
	}
	return doc.JWKSURI, nil
}

func (v *OIDCVerifier) Verify(token string) (*Identity, error) {
	var claims accessClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.keys); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims.identity(), nil
}

// Close stops the key set refresh.
func (v *OIDCVerifier) Close() error {
	if v.stop != nil {
		v.stop()
	}
	return nil
}
