package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ohiobeerpath/api/utils"
)

// AuthRequired protects the admin stats API. The token is read from the
// jwt_token cookie first, then from the Authorization header.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie("jwt_token")
		if err != nil {
			tokenString = c.GetHeader("Authorization")
			if tokenString == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")
		}

		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Debug().Err(err).Msg("rejected invalid JWT")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}
