package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// NewJWTMiddleware authenticates requests signed with secret. The token is
// read from the Authorization header first and the auth_token cookie second.
func NewJWTMiddleware(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *gin.Context) {
		requestID := c.GetString("requestID")

		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "Authorization token missing",
				"requestID": requestID,
			})
			return
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil {
			msg := "Authorization token invalid"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Authorization token expired. Please log in again"
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     msg,
				"requestID": requestID,
			})

			zap.L().Debug("Rejected token", zap.String("requestID", requestID), zap.Error(err))
			return
		}

		userID, _ := claims["user_id"].(string)
		if userID == "" {
			userID, _ = claims.GetSubject()
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "Authorization token invalid",
				"requestID": requestID,
			})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	token, _ := c.Cookie("auth_token")
	return token
}
