package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qrsafety/backend/internal/identity"
)

// TokenGenerator handles JWT token generation and validation
type TokenGenerator struct {
	secret            string
	accessTokenExpiry time.Duration
	guestTokenExpiry  time.Duration
}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator(secret string, accessExpiry, guestExpiry time.Duration) *TokenGenerator {
	return &TokenGenerator{
		secret:            secret,
		accessTokenExpiry: accessExpiry,
		guestTokenExpiry:  guestExpiry,
	}
}

// GenerateUserToken creates an access token for an authenticated user
func (tg *TokenGenerator) GenerateUserToken(userID string) (string, error) {
	return tg.generate(userID, false, tg.accessTokenExpiry)
}

// GenerateGuestToken creates an access token for an anonymous guest.
// Guest tokens carry the is_anonymous claim so the actor resolves as Guest.
func (tg *TokenGenerator) GenerateGuestToken(guestID string) (string, error) {
	return tg.generate(guestID, true, tg.guestTokenExpiry)
}

func (tg *TokenGenerator) generate(uid string, anonymous bool, expiry time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"uid":          uid,
		"is_anonymous": anonymous,
		"exp":          time.Now().Add(expiry).Unix(),
		"iat":          time.Now().Unix(),
		"type":         "access",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tg.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates an access token and returns the actor it encodes
func (tg *TokenGenerator) ValidateToken(tokenString string) (identity.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tg.secret), nil
	})

	if err != nil {
		return identity.Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return identity.Actor{}, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Actor{}, fmt.Errorf("invalid token claims")
	}

	tokenType, ok := claims["type"].(string)
	if !ok || tokenType != "access" {
		return identity.Actor{}, fmt.Errorf("token is not an access token")
	}

	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return identity.Actor{}, fmt.Errorf("uid not found in token")
	}

	anonymous, _ := claims["is_anonymous"].(bool)

	return identity.Actor{UserID: uid, Guest: anonymous}, nil
}
