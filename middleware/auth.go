package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	apperrors "github.com/pilievwm/ccimageupload/common/errors"
)

// OperatorContextKey holds the token subject of an authenticated request.
const OperatorContextKey = "operator"

// AuthMiddleware requires an HMAC-signed bearer token. With an empty secret
// every request passes unauthenticated.
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			abortWith(c, apperrors.ErrMissingToken)
			return
		}

		claims, err := ParseToken(strings.TrimSpace(tokenStr), key)
		if err != nil {
			abortWith(c, apperrors.ErrInvalidToken.Wrap(err))
			return
		}
		if sub, _ := claims["sub"].(string); sub != "" {
			c.Set(OperatorContextKey, sub)
		}
		c.Next()
	}
}

// ParseToken validates tokenStr against key and returns its claims.
func ParseToken(tokenStr string, key []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// GetOperator returns the authenticated subject, if any.
func GetOperator(c *gin.Context) (string, bool) {
	v := c.GetString(OperatorContextKey)
	return v, v != ""
}

func abortWith(c *gin.Context, err *apperrors.Error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.Code, gin.H{"error": err.Message})
}
