package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"saleescrow/crypto"
)

const defaultClockSkew = 2 * time.Minute

var (
	errAuthDisabled = errors.New("rpc authentication secret not configured")
	errMissingToken = errors.New("missing bearer token")
)

// AuthConfig controls verification of caller bearer tokens. The token subject
// is the caller's account address.
type AuthConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type authenticator struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	return &authenticator{
		secret:   []byte(strings.TrimSpace(cfg.Secret)),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
	}
}

// caller resolves the authenticated account for r.
func (a *authenticator) caller(r *http.Request) ([20]byte, error) {
	if len(a.secret) == 0 {
		return [20]byte{}, errAuthDisabled
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return [20]byte{}, errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return [20]byte{}, err
	}
	if !token.Valid {
		return [20]byte{}, errors.New("token invalid")
	}
	addr, err := crypto.ParseAddress(claims.Subject, crypto.AccountPrefix)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid subject: %w", err)
	}
	if addr.IsZero() {
		return [20]byte{}, errors.New("invalid subject: zero address")
	}
	return addr.Array(), nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// IssueToken signs an HS256 caller token for subject. A non-positive ttl
// produces a token without expiry.
func IssueToken(secret, subject, issuer, audience string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errAuthDisabled
	}
	if _, err := crypto.ParseAddress(subject, crypto.AccountPrefix); err != nil {
		return "", fmt.Errorf("invalid subject: %w", err)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if issuer != "" {
		claims.Issuer = issuer
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
