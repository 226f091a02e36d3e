// Package token mints and verifies the access/refresh JWT pair.
//
// Access and refresh tokens are signed with separate HMAC secrets, so a token
// of one kind never verifies as the other. Verification is a pure function of
// the token, the secret and the clock.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonExpired      Reason = "expired"
	ReasonBadSignature Reason = "bad-signature"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingClaims = errors.New("subject id and email are required")
	ErrMisconfigured = errors.New("token issuer config invalid")
)

// InvalidTokenError carries the verification failure reason. It matches
// ErrInvalidToken with errors.Is.
type InvalidTokenError struct {
	Reason Reason
	Err    error
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

func (e *InvalidTokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the failure reason of err, or "" when err is not an
// InvalidTokenError.
func ReasonOf(err error) Reason {
	var ite *InvalidTokenError
	if errors.As(err, &ite) {
		return ite.Reason
	}
	return ""
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
	Now           func() time.Time
}

// Subject is the identity claim set a pair is minted for.
type Subject struct {
	ID    string
	Email string
}

type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	AtExpiry     time.Time
	RtExpiry     time.Time
}

type Issuer struct {
	cfg           Config
	accessParser  *jwt.Parser
	refreshParser *jwt.Parser
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("%w: both secrets are required", ErrMisconfigured)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrMisconfigured)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrMisconfigured)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Issuer{
		cfg:           cfg,
		accessParser:  newParser(cfg),
		refreshParser: newParser(cfg),
	}, nil
}

func newParser(cfg Config) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return jwt.NewParser(opts...)
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.cfg.RefreshTTL
}

// Issue mints a fresh access/refresh pair for sub.
func (i *Issuer) Issue(sub Subject) (Pair, error) {
	if sub.ID == "" || sub.Email == "" {
		return Pair{}, ErrMissingClaims
	}

	now := i.cfg.Now()
	access, accessExp, err := i.sign(sub, now, i.cfg.AccessTTL, i.cfg.AccessSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, refreshExp, err := i.sign(sub, now, i.cfg.RefreshTTL, i.cfg.RefreshSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("signing refresh token: %w", err)
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		AtExpiry:     accessExp,
		RtExpiry:     refreshExp,
	}, nil
}

func (i *Issuer) sign(sub Subject, now time.Time, ttl time.Duration, secret []byte) (string, time.Time, error) {
	exp := jwt.NewNumericDate(now.Add(ttl))
	claims := Claims{
		Email: sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp.Time, nil
}

func (i *Issuer) VerifyAccess(tokenStr string) (*Claims, error) {
	return verify(i.accessParser, tokenStr, i.cfg.AccessSecret)
}

func (i *Issuer) VerifyRefresh(tokenStr string) (*Claims, error) {
	return verify(i.refreshParser, tokenStr, i.cfg.RefreshSecret)
}

func verify(parser *jwt.Parser, tokenStr string, secret []byte) (*Claims, error) {
	if tokenStr == "" {
		return nil, &InvalidTokenError{Reason: ReasonMalformed}
	}

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, &InvalidTokenError{Reason: classify(err), Err: err}
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, &InvalidTokenError{Reason: ReasonMalformed, Err: ErrMissingClaims}
	}
	return claims, nil
}

// classify relies on the parser checking the signature before the claims, so
// an expired token with a forged signature reports bad-signature.
func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	default:
		return ReasonMalformed
	}
}
