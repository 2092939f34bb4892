package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/purushoth411/postmanback/domain"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  sub,
		"role": "superadmin",
		"aud":  "api://aud",
		"iss":  "https://issuer/",
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
		"nbf":  time.Now().Add(-time.Minute).Unix(),
		"iat":  time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "ok", header: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", header: "  Bearer a.b.c  ", want: "a.b.c"},
		{name: "missing", header: "", wantErr: errMissingAuthorization},
		{name: "blank", header: "   ", wantErr: errMissingAuthorization},
		{name: "scheme", header: "Basic a.b.c", wantErr: errBadAuthorization},
		{name: "segments", header: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
		{name: "empty token", header: "Bearer ", wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if err != tt.wantErr {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestIdentifyHS256(t *testing.T) {
	auth := NewTestAuth(testSecret, "api://aud", "https://issuer/")
	id, err := auth.Identify("Bearer " + signToken(t, validClaims("auth0|42")))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if id.Actor != domain.ActorID(42) || id.Role != RoleSuperAdmin {
		t.Fatalf("unexpected identity %#v", id)
	}
}

func TestIdentifyRejects(t *testing.T) {
	auth := NewTestAuth(testSecret, "api://aud", "https://issuer/")

	expired := validClaims("7")
	expired["exp"] = time.Now().Add(-5 * time.Minute).Unix()
	wrongAud := validClaims("7")
	wrongAud["aud"] = "api://other"
	wrongIss := validClaims("7")
	wrongIss["iss"] = "https://evil/"

	tests := map[string]string{
		"expired":      signToken(t, expired),
		"audience":     signToken(t, wrongAud),
		"issuer":       signToken(t, wrongIss),
		"text subject": signToken(t, validClaims("alice")),
		"zero subject": signToken(t, validClaims("0")),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.Identify("Bearer " + token); err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("7")).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.Identify("Bearer " + other); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestIdentifyWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "")
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("7"))
	token.Header["kid"] = "k1"
	if _, err := auth.keyFor(token); err == nil || err.Error() != "jwks not configured" {
		t.Fatalf("expected jwks error, got %v", err)
	}
}
