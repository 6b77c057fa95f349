package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// Context keys set by OptionalAuth
const (
	ContextUserID = "user_id"
	ContextTier   = "subscription_tier"
)

var errInvalidClaims = errors.New("invalid token claims")

// TokenValidator is an interface for validating JWT tokens
type TokenValidator interface {
	ValidateToken(token string) (*types.TokenClaims, error)
}

// JWTValidator checks HMAC-signed tokens
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) ValidateToken(tokenString string) (*types.TokenClaims, error) {
	claims := &types.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == uuid.Nil {
		return nil, errInvalidClaims
	}
	return claims, nil
}

// IssueToken signs claims for userID valid for ttl
func (v *JWTValidator) IssueToken(userID uuid.UUID, tier string, ttl time.Duration) (string, error) {
	claims := &types.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:           userID,
		SubscriptionTier: tier,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// OptionalAuth attaches the caller's identity when a bearer token is sent.
// Requests without a token continue anonymously; bad tokens are rejected.
func OptionalAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || validator == nil {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format", Code: "UNAUTHORIZED"})
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "UNAUTHORIZED"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		if claims.SubscriptionTier != "" {
			c.Set(ContextTier, claims.SubscriptionTier)
		}
		c.Next()
	}
}

// UserID returns the authenticated user, if any
func UserID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
