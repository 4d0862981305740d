// Package snowauth supplies bearer credentials for the Snowflake ingest
// endpoints: either a pre-issued programmatic access token or a short-lived
// OAuth token minted from an RSA key-pair signed assertion.
package snowauth

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

const (
	jwtLifetime = time.Hour
	// The token endpoint does not advertise an expiry; the original client
	// assumed ~50 minutes for a one-hour assertion.
	tokenLifetimeEstimate = 50 * time.Minute

	grantJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Header the ingest service wants when authenticating with a PAT.
	patHeaderName  = "X-Snowflake-Authorization-Token-Type"
	patHeaderValue = "PROGRAMMATIC_ACCESS_TOKEN"
)

// AuthError reports missing or rejected credential material. The pipeline
// treats it like any other append failure but logs it distinctly and forces
// a token refresh on the next attempt.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StaticTokenSource returns a fixed programmatic access token. No network
// call is ever made; the expiry is synthetic so callers never refresh.
type StaticTokenSource struct {
	pat string
}

func NewStaticTokenSource(pat string) (*StaticTokenSource, error) {
	if pat == "" {
		return nil, &AuthError{Op: "static token", Err: fmt.Errorf("empty token")}
	}
	return &StaticTokenSource{pat: pat}, nil
}

func (s *StaticTokenSource) Token(context.Context) (ports.Token, error) {
	return ports.Token{
		Value:      s.pat,
		Expiry:     time.Now().Add(24 * time.Hour),
		HeaderHint: map[string]string{patHeaderName: patHeaderValue},
	}, nil
}

// KeyPairSource mints an RS256-signed assertion from a private key and
// exchanges it at the account's /oauth/token endpoint for a scoped bearer
// token.
type KeyPairSource struct {
	account  string // upper-cased account identifier
	user     string // upper-cased user name
	scope    string
	tokenURL string
	key      *rsa.PrivateKey
	client   *http.Client
	now      func() time.Time
}

// KeyPairConfig carries the identity and key material for key-pair auth.
type KeyPairConfig struct {
	Account        string
	User           string
	Role           string // defaults to PUBLIC
	PrivateKeyFile string
	TokenURL       string // defaults to the account's snowflakecomputing.com token endpoint
}

func NewKeyPairSource(cfg KeyPairConfig, client *http.Client) (*KeyPairSource, error) {
	if cfg.Account == "" || cfg.User == "" {
		return nil, &AuthError{Op: "key pair", Err: fmt.Errorf("account and user are required")}
	}
	key, err := loadPrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	role := cfg.Role
	if role == "" {
		role = "PUBLIC"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://%s.snowflakecomputing.com/oauth/token", strings.ToLower(cfg.Account))
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &KeyPairSource{
		account:  strings.ToUpper(cfg.Account),
		user:     strings.ToUpper(cfg.User),
		scope:    "session:role:" + strings.ToUpper(role),
		tokenURL: tokenURL,
		key:      key,
		client:   client,
		now:      time.Now,
	}, nil
}

// Token signs a fresh assertion and exchanges it for an access token. Each
// call performs the exchange; callers are expected to cache the result until
// close to its expiry.
func (k *KeyPairSource) Token(ctx context.Context) (ports.Token, error) {
	assertion, err := k.signAssertion()
	if err != nil {
		return ports.Token{}, &AuthError{Op: "sign assertion", Err: err}
	}

	form := url.Values{
		"grant_type": {grantJWTBearer},
		"assertion":  {assertion},
		"scope":      {k.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.Token{}, &AuthError{Op: "token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.client.Do(req)
	if err != nil {
		return ports.Token{}, &AuthError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return ports.Token{}, &AuthError{
			Op:  "token exchange",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ports.Token{}, &AuthError{Op: "token exchange", Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.AccessToken == "" {
		return ports.Token{}, &AuthError{Op: "token exchange", Err: fmt.Errorf("no access_token in response")}
	}

	return ports.Token{
		Value:  payload.AccessToken,
		Expiry: k.now().Add(tokenLifetimeEstimate),
	}, nil
}

// signAssertion builds the JWT the token endpoint expects: issuer is
// ACCOUNT.USER.SHA256:<public key fingerprint>, subject is ACCOUNT.USER.
func (k *KeyPairSource) signAssertion() (string, error) {
	fp, err := publicKeyFingerprint(k.key)
	if err != nil {
		return "", err
	}

	qualified := k.account + "." + k.user
	now := k.now().UTC()

	claims := jwt.MapClaims{
		"iss": qualified + "." + fp,
		"sub": qualified,
		"iat": now.Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(k.key)
}

func publicKeyFingerprint(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return "SHA256:" + strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, &AuthError{Op: "load key", Err: fmt.Errorf("no private key file configured")}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &AuthError{Op: "load key", Err: err}
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, &AuthError{Op: "load key", Err: fmt.Errorf("%s: not PEM encoded", path)}
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, &AuthError{Op: "load key", Err: fmt.Errorf("%s: not an RSA key", path)}
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, &AuthError{Op: "load key", Err: fmt.Errorf("%s: parse private key: %w", path, err)}
	}
	return key, nil
}

var (
	_ ports.TokenSource = (*StaticTokenSource)(nil)
	_ ports.TokenSource = (*KeyPairSource)(nil)
)
