package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer is the iss claim on every bearer token chatcore signs and the
// only issuer it accepts.
const TokenIssuer = "chatcore"

// clockSkew tolerates small clock differences between the Jenkins controller
// that requested a token and this process.
const clockSkew = 30 * time.Second

// JWTService signs and verifies HS256 bearer tokens that carry a Jenkins
// identity.
type JWTService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewJWTService creates a token service. A non-positive expiry issues tokens
// without an exp claim.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Claims mirror the Jenkins user headers. The subject is the Jenkins user id.
type Claims struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Generate signs a token for user.
func (s *JWTService) Generate(user *User) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}
	if IsAnonymous(user.ID) {
		return "", ErrAnonymous
	}

	now := s.now()
	claims := Claims{
		FullName: strings.TrimSpace(user.Name),
		Email:    strings.TrimSpace(user.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   TokenIssuer,
			Subject:  strings.TrimSpace(user.ID),
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate verifies token and returns the identity it carries.
func (s *JWTService) Validate(token string) (*User, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &User{
		ID:    subject,
		Name:  strings.TrimSpace(claims.FullName),
		Email: strings.TrimSpace(claims.Email),
	}, nil
}
