package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds how long an operator session token stays valid.
const DefaultTokenTTL = 24 * time.Hour

const tokenIssuer = "nodegate"

// ErrEmptyToken is returned when validation receives no token at all
var ErrEmptyToken = errors.New("token cannot be empty")

// JWTClaims carries the operator identity and scope inside a signed token.
// The operator id doubles as the registered subject claim.
type JWTClaims struct {
	OperatorID string `json:"operatorId"`
	IsAdmin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth mints and validates operator session tokens (HS256)
type JWTAuth struct {
	secretKey []byte
	tokenTTL  time.Duration
}

// NewJWTAuth creates a JWT handler signing with the given secret
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{
		secretKey: []byte(secretKey),
		tokenTTL:  DefaultTokenTTL,
	}
}

// GenerateToken mints a session token for an operator. The admin flag is
// decided at login against the configured admin token and baked into the
// claims; it cannot be escalated afterwards.
func (j *JWTAuth) GenerateToken(operatorID string, isAdmin bool) (string, time.Time, error) {
	if operatorID == "" {
		return "", time.Time{}, errors.New("operatorID cannot be empty")
	}

	now := time.Now()
	expiresAt := now.Add(j.tokenTTL)

	claims := &JWTClaims{
		OperatorID: operatorID,
		IsAdmin:    isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies a session token and returns its claims. A leading
// "Bearer " prefix is tolerated so callers can pass the raw header value.
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return j.secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}
