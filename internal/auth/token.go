// ABOUTME: JWT token verification for authenticating chat participants
// ABOUTME: Uses HS256 signing; tokens carry subject, role and display name

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/store"
)

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (conversation.Participant, error)
}

// Claims are the participant claims carried in a token.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and returns the participant it names. The
// "sub" and "role" claims are required.
func (v *JWTVerifier) Verify(tokenString string) (conversation.Participant, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return conversation.Participant{}, ErrExpiredToken
		}
		return conversation.Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return conversation.Participant{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return conversation.Participant{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	role := store.SenderType(claims.Role)
	if !role.Valid() {
		return conversation.Participant{}, fmt.Errorf("%w: role", ErrMissingClaim)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return conversation.Participant{ID: claims.Subject, Role: role, Name: name}, nil
}

// Generate creates a new JWT token for the participant with expiration
func (v *JWTVerifier) Generate(p conversation.Participant, expiresIn time.Duration) (string, error) {
	if p.ID == "" || !p.Role.Valid() {
		return "", fmt.Errorf("%w: participant needs id and role", ErrMissingClaim)
	}
	now := time.Now()
	claims := Claims{
		Role: string(p.Role),
		Name: p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
