package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Options configure verification. Secret, Issuer and Audience are shared
// with the identity service that mints the tokens.
type Options struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	QueryParam string        `mapstructure:"queryParam"` // default "token"
	Leeway     time.Duration `mapstructure:"leeway"`
}

type Verifier struct {
	opts   Options
	parser *jwtlib.Parser
}

func NewVerifier(opts Options) (*Verifier, error) {
	if opts.Secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	if opts.QueryParam == "" {
		opts.QueryParam = "token"
	}
	parserOpts := []jwtlib.ParserOption{
		// HMAC family only; anything else is a forged alg header
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(opts.Audience))
	}
	return &Verifier{opts: opts, parser: jwtlib.NewParser(parserOpts...)}, nil
}

// TokenFromRequest pulls the bearer token out of the upgrade URL's query.
func (v *Verifier) TokenFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(v.opts.QueryParam))
}

// Verify checks signature, issuer, audience and expiry and returns the
// token subject as the user id.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &jwtlib.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwtlib.Token) (interface{}, error) {
		return []byte(v.opts.Secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Authenticate is TokenFromRequest followed by Verify.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	return v.Verify(v.TokenFromRequest(r))
}

// Issue signs an HS256 token the Verifier accepts. Tokens are minted by the
// identity service in production; this is for tests and dev tooling.
func Issue(opts Options, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtlib.RegisteredClaims{
		Subject:   userID,
		Issuer:    opts.Issuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
	if opts.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{opts.Audience}
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(opts.Secret))
}
