package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestServiceValidateAPIKey(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "abc123", UserID: "user-1", Email: "user@example.com"}}})
	user, err := service.ValidateAPIKey("abc123")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected user id, got %q", user.ID)
	}
	if user.Email != "user@example.com" {
		t.Fatalf("expected email, got %q", user.Email)
	}
	if _, err := service.ValidateAPIKey("nope"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("ValidateAPIKey() error = %v, want ErrInvalidKey", err)
	}
}

func TestServiceAuthenticate(t *testing.T) {
	jwtService := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour})
	token, err := jwtService.GenerateJWT(&User{ID: "carol", Name: "Carol"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	anonToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:  TokenIssuer,
		Subject: "Anonymous",
	}}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	headersOnly := NewService(Config{})
	trusting := NewService(Config{JWTSecret: "secret", TrustProxyHeaders: true})

	tests := []struct {
		name    string
		service *Service
		headers map[string]string
		wantID  string
		wantErr error
	}{
		{"proxy headers", headersOnly, map[string]string{HeaderUserID: "alice", HeaderUserName: "Alice"}, "alice", nil},
		{"missing headers", headersOnly, nil, "", ErrMissingIdentity},
		{"blank user id", headersOnly, map[string]string{HeaderUserID: "  "}, "", ErrMissingIdentity},
		{"anonymous", headersOnly, map[string]string{HeaderUserID: "ANONYMOUS"}, "", ErrAnonymous},
		{"bearer token", jwtService, map[string]string{"Authorization": "Bearer " + token}, "carol", nil},
		{"lowercase scheme", jwtService, map[string]string{"Authorization": "bearer " + token}, "carol", nil},
		{"invalid token", jwtService, map[string]string{"Authorization": "Bearer nope"}, "", ErrInvalidToken},
		{"anonymous token", jwtService, map[string]string{"Authorization": "Bearer " + anonToken}, "", ErrAnonymous},
		{"headers ignored with jwt", jwtService, map[string]string{HeaderUserID: "alice"}, "", ErrMissingIdentity},
		{"headers trusted with jwt", trusting, map[string]string{HeaderUserID: "alice"}, "alice", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			user, err := tt.service.Authenticate(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if user.ID != tt.wantID {
				t.Errorf("user id = %q, want %q", user.ID, tt.wantID)
			}
		})
	}
}

func TestAuthenticateDefaultsName(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "alice")
	user, err := NewService(Config{}).Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Name != "Anonymous" {
		t.Errorf("Name = %q", user.Name)
	}
}
