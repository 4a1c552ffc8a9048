package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDevToken(t *testing.T) {
	a := &MultiAuthenticator{DevToken: "dev-token", DevSubject: "mod-dev"}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer dev-token")

	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "mod-dev" || claims.Token != "dev-token" || !claims.Operator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestBearerErrors(t *testing.T) {
	a := &MultiAuthenticator{DevToken: "dev-token"}

	r := httptest.NewRequest("GET", "/", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrMissingBearer) {
		t.Fatalf("expected ErrMissingBearer, got %v", err)
	}

	for _, header := range []string{"Basic abc", "Bearer ", "Bearer wrong"} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", header)
		if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("header %q: expected ErrInvalidToken, got %v", header, err)
		}
	}
}

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Now()
	token, err := IssueToken(secret, "curator", "mod-7", time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	a := &MultiAuthenticator{JWTSecret: secret, Issuer: "curator"}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "mod-7" || claims.Issuer != "curator" || claims.Token != token || claims.Operator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTRejectsBadTokens(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Now()

	expired, _ := IssueToken(secret, "curator", "mod-7", time.Minute, now.Add(-time.Hour))
	wrongKey, _ := IssueToken([]byte("other"), "curator", "mod-7", time.Hour, now)
	wrongIssuer, _ := IssueToken(secret, "someone-else", "mod-7", time.Hour, now)

	a := &MultiAuthenticator{JWTSecret: secret, Issuer: "curator"}
	for name, token := range map[string]string{"expired": expired, "wrong key": wrongKey, "wrong issuer": wrongIssuer} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	if _, err := IssueToken(nil, "", "x", time.Hour, now); err == nil {
		t.Fatalf("expected error without secret")
	}
	if _, err := IssueToken(secret, "", "", time.Hour, now); err == nil {
		t.Fatalf("expected error without subject")
	}
}
