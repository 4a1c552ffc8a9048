// Package auth resolves the moderator behind a request. Decisions record the
// authenticated subject as the actor.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	Subject string
	Issuer  string
	Token   string
	// Operator is set for the static dev token, which may act for any user.
	Operator bool
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// tokenClaims is the JWT body. sub carries the moderator id.
type tokenClaims struct {
	jwt.RegisteredClaims
}

// MultiAuthenticator accepts the static dev token or an HS256 JWT.
type MultiAuthenticator struct {
	DevToken string
	// DevSubject is reported for the dev token. Defaults to "dev".
	DevSubject string
	JWTSecret  []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

func (a *MultiAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	if a.DevToken != "" && bearer == a.DevToken {
		subject := a.DevSubject
		if subject == "" {
			subject = "dev"
		}
		return Claims{Subject: subject, Issuer: "curator-dev", Token: bearer, Operator: true}, nil
	}

	if len(a.JWTSecret) > 0 {
		claims, err := a.verifyJWT(bearer)
		if err == nil {
			claims.Token = bearer
			return claims, nil
		}
	}

	return Claims{}, ErrInvalidToken
}

func (a *MultiAuthenticator) verifyJWT(raw string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.JWTSecret, nil
	}, opts...)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: claims.Subject, Issuer: claims.Issuer}, nil
}

// IssueToken signs an HS256 token for subject that expires after ttl.
func IssueToken(secret []byte, issuer, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("missing jwt secret")
	}
	if subject == "" {
		return "", fmt.Errorf("missing subject")
	}
	claims := tokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
