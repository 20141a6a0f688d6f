// Package auth resolves the caller's identity for the HTTP surface.
//
// Requests normally arrive through the Jenkins proxy, which injects the
// X-Jenkins-User-ID and X-Jenkins-User-Name headers. Deployments that expose
// the service directly can instead require an HS256 bearer token or a
// static API key.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Identity headers set by the Jenkins proxy.
const (
	HeaderUserID   = "X-Jenkins-User-ID"
	HeaderUserName = "X-Jenkins-User-Name"
)

var (
	ErrAuthDisabled    = errors.New("auth disabled")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidKey      = errors.New("invalid api key")
	ErrMissingIdentity = errors.New("missing authentication headers")
	ErrAnonymous       = errors.New("anonymous access is not allowed")
)

// User is an authenticated caller.
type User struct {
	ID    string `json:"user_id"`
	Name  string `json:"full_name"`
	Email string `json:"email,omitempty"`
}

// Config configures authentication.
type Config struct {
	// JWTSecret enables bearer tokens. When set, proxy headers are only
	// trusted if TrustProxyHeaders is also true.
	JWTSecret   string        `yaml:"jwt_secret" json:"jwt_secret,omitempty"`
	TokenExpiry time.Duration `yaml:"token_expiry" json:"token_expiry,omitempty"`

	APIKeys []APIKeyConfig `yaml:"api_keys" json:"api_keys,omitempty"`

	TrustProxyHeaders bool `yaml:"trust_proxy_headers" json:"trust_proxy_headers,omitempty"`
}

// APIKeyConfig declares a static API key and associated identity.
type APIKeyConfig struct {
	Key    string `yaml:"key" json:"key"`
	UserID string `yaml:"user_id" json:"user_id,omitempty"`
	Email  string `yaml:"email" json:"email,omitempty"`
	Name   string `yaml:"name" json:"name,omitempty"`
}

// Service resolves identities.
type Service struct {
	jwt          *JWTService
	apiKeys      map[string]*User
	proxyHeaders bool
}

// NewService constructs an auth service from static configuration. With no
// secret and no keys only proxy headers are accepted.
func NewService(cfg Config) *Service {
	service := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	service.proxyHeaders = cfg.TrustProxyHeaders || !service.credentialsEnabled()
	return service
}

func (s *Service) credentialsEnabled() bool {
	return s.jwt != nil || len(s.apiKeys) > 0
}

// GenerateJWT issues a signed token for the given user.
func (s *Service) GenerateJWT(user *User) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user)
}

// ValidateJWT validates a JWT and returns the associated user.
func (s *Service) ValidateJWT(token string) (*User, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey validates an API key and returns the associated user.
// Uses constant-time comparison to prevent timing attacks.
func (s *Service) ValidateAPIKey(key string) (*User, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}
	inputKey := strings.TrimSpace(key)
	var matchedUser *User
	for storedKey, user := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputKey), []byte(storedKey)) == 1 {
			matchedUser = user
		}
	}
	if matchedUser == nil {
		return nil, ErrInvalidKey
	}
	return matchedUser, nil
}

// Authenticate resolves the identity of r. Credentials win over proxy
// headers. The id "anonymous", in any case, is always rejected.
func (s *Service) Authenticate(r *http.Request) (*User, error) {
	user, err := s.resolve(r)
	if err != nil {
		return nil, err
	}
	if IsAnonymous(user.ID) {
		return nil, ErrAnonymous
	}
	return user, nil
}

// IsAnonymous reports whether id is the Jenkins anonymous user.
func IsAnonymous(id string) bool {
	return strings.EqualFold(strings.TrimSpace(id), "anonymous")
}

func (s *Service) resolve(r *http.Request) (*User, error) {
	if token := extractBearer(r); token != "" && s.jwt != nil {
		return s.ValidateJWT(token)
	}
	if key := extractAPIKey(r); key != "" && len(s.apiKeys) > 0 {
		return s.ValidateAPIKey(key)
	}
	if s.proxyHeaders {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			return nil, ErrMissingIdentity
		}
		name := strings.TrimSpace(r.Header.Get(HeaderUserName))
		if name == "" {
			name = "Anonymous"
		}
		return &User{ID: id, Name: name}, nil
	}
	return nil, ErrMissingIdentity
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]*User {
	out := map[string]*User{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			sum := sha256.Sum256([]byte(key))
			userID = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = &User{
			ID:    userID,
			Email: strings.TrimSpace(entry.Email),
			Name:  strings.TrimSpace(entry.Name),
		}
	}
	return out
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	for _, key := range []string{"X-API-Key", "API-Key"} {
		if trimmed := strings.TrimSpace(r.Header.Get(key)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
