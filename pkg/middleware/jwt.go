package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
)

var errNoToken = errors.New("no token")

// Claims is the identity carried by tokens issued by the account service.
// This app only reads them.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type identity struct {
	secret []byte
	parser *jwt.Parser
}

func newIdentity(secret string) *identity {
	return &identity{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func tokenFrom(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || tok == "" {
			return "", errors.New("malformed authorization header")
		}
		return tok, nil
	}

	tok, err := c.Cookie("auth_token")
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", errNoToken
		}
		return "", err
	}

	return tok, nil
}

func (i *identity) parse(tok string) (*Claims, error) {
	claims := &Claims{}

	_, err := i.parser.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user_id")
	}

	if claims.Role == "" {
		claims.Role = RoleUser
	}

	return claims, nil
}

// NewJWTMiddleware rejects requests without a valid token and sets userID
// and role on the context
func NewJWTMiddleware(secret string) gin.HandlerFunc {
	id := newIdentity(secret)

	return func(c *gin.Context) {
		requestID := c.GetString("requestID")

		tok, err := tokenFrom(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "Authorization token missing",
				"requestID": requestID,
			})
			return
		}

		claims, err := id.parse(tok)
		if err != nil {
			msg := "Authorization token invalid"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Authorization token expired. Please log in again"
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     msg,
				"requestID": requestID,
			})

			zap.L().Debug("Failed to parse token", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// NewOptionalJWTMiddleware sets the identity when a valid token is present
// and lets anonymous requests through. A present but invalid token is still
// rejected.
func NewOptionalJWTMiddleware(secret string) gin.HandlerFunc {
	id := newIdentity(secret)

	return func(c *gin.Context) {
		tok, err := tokenFrom(c)
		if errors.Is(err, errNoToken) {
			c.Next()
			return
		}

		var claims *Claims
		if err == nil {
			claims, err = id.parse(tok)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "Authorization token invalid",
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole must run after NewJWTMiddleware
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":     "Insufficient permissions",
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Next()
	}
}
