package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate(&User{ID: "alice", Email: "alice@example.com", Name: "Alice Example"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	user, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if user.ID != "alice" || user.Name != "Alice Example" || user.Email != "alice@example.com" {
		t.Fatalf("Validate() = %+v", user)
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	if claims.Issuer != TokenIssuer || claims.ID == "" || claims.ExpiresAt == nil {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestJWTServiceNoExpiry(t *testing.T) {
	service := NewJWTService("secret", 0)
	token, err := service.Generate(&User{ID: "alice"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	service.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	if _, err := service.Validate(token); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestJWTServiceGenerateRejects(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	if _, err := service.Generate(&User{ID: " "}); err == nil {
		t.Error("expected error for blank id")
	}
	if _, err := service.Generate(&User{ID: "Anonymous"}); !errors.Is(err, ErrAnonymous) {
		t.Errorf("Generate(anonymous) error = %v, want ErrAnonymous", err)
	}
	if _, err := NewJWTService("", time.Hour).Generate(&User{ID: "alice"}); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Generate() without secret error = %v, want ErrAuthDisabled", err)
	}
}

func TestJWTServiceValidateRejects(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	sign := func(claims jwt.Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return token
	}

	otherKey, err := NewJWTService("other", time.Hour).Generate(&User{ID: "alice"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: TokenIssuer, Subject: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := map[string]string{
		"expired": sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}),
		"wrong issuer": sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "jenkins", Subject: "alice"}}),
		"no subject":   sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: TokenIssuer}}),
		"other key":    otherKey,
		"alg none":     none,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		if _, err := service.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: Validate() error = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestJWTServiceToleratesSkew(t *testing.T) {
	service := NewJWTService("secret", time.Minute)
	token, err := service.Generate(&User{ID: "alice"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	service.now = func() time.Time { return time.Now().Add(time.Minute + 10*time.Second) }
	if _, err := service.Validate(token); err != nil {
		t.Fatalf("Validate() within leeway error = %v", err)
	}
}
