package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidTokenClaims is returned when a token carries unexpected claims.
	ErrInvalidTokenClaims = errors.New("invalid token claims")
)

// Claims represents JWT token claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"user_id"`
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "flowpay",
	}
}

// JWTManager handles JWT token operations.
type JWTManager struct {
	config *JWTConfig
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config == nil {
		config = DefaultJWTConfig()
	}
	if config.Issuer == "" {
		config.Issuer = "flowpay"
	}
	return &JWTManager{config: config}
}

// GenerateAccessToken generates a new access token for the user.
func (m *JWTManager) GenerateAccessToken(userID uuid.UUID) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.config.AccessTokenExpiry)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTokenClaims
	}

	return claims, nil
}
