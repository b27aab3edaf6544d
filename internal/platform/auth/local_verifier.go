package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	jwt "github.com/golang-jwt/jwt/v5"
)

// LocalVerifier validates HS256 tokens minted by development tooling. It is a
// drop-in TokenVerifier for environments without Firebase connectivity, such
// as the emulator suite and local integration tests.
type LocalVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// LocalVerifierOption customises LocalVerifier behaviour.
type LocalVerifierOption func(*LocalVerifier)

// WithLocalIssuer restricts accepted tokens to the given issuer.
func WithLocalIssuer(issuer string) LocalVerifierOption {
	return func(v *LocalVerifier) {
		v.issuer = issuer
	}
}

// WithLocalAudience restricts accepted tokens to the given audience.
func WithLocalAudience(audience string) LocalVerifierOption {
	return func(v *LocalVerifier) {
		v.audience = audience
	}
}

// WithLocalClock injects a custom clock, primarily for tests.
func WithLocalClock(now func() time.Time) LocalVerifierOption {
	return func(v *LocalVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewLocalVerifier constructs a verifier for the given shared secret.
func NewLocalVerifier(secret string, opts ...LocalVerifierOption) (*LocalVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth: local verifier secret is required")
	}

	v := &LocalVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyIDToken parses and validates the HS256 token, mapping its claims onto
// the same token shape the Firebase verifier produces.
func (v *LocalVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("auth: local verifier not initialised")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuedAt(),
	)

	_, err := parser.ParseWithClaims(idToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if v.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != v.issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
		}
	}
	if v.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
		}
		matched := false
		for _, a := range aud {
			if a == v.audience {
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
		}
	}

	uid := claimString(claims, "sub")
	if uid == "" {
		uid = claimString(claims, "uid")
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: subject claim missing", ErrTokenInvalid)
	}

	token := &firebaseauth.Token{
		UID:     uid,
		Subject: uid,
		Issuer:  claimString(claims, "iss"),
		Claims:  map[string]interface{}(claims),
	}
	if iat, ok := claims["iat"].(float64); ok {
		token.IssuedAt = int64(iat)
	}
	if exp, ok := claims["exp"].(float64); ok {
		token.Expires = int64(exp)
	}
	return token, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return value
}
