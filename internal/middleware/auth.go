package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"crowdlink/internal/db"
	"crowdlink/internal/models"
	"crowdlink/internal/utils"
)

const CheckUserKey = "user"

const userCacheTTL = 30 * time.Second

// LoadUser resolves the session's user id to a loaded User and sets it on
// the request context. Rows are cached briefly so a burst of API calls
// from one client doesn't re-read the user on every request.
func LoadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get("user_id")

		if userID != nil {
			cacheKey := fmt.Sprintf("user:%v", userID)
			if cached := utils.GetCache().Get(cacheKey); cached != nil {
				if user, ok := cached.(*models.User); ok {
					c.Set(CheckUserKey, user)
					c.Next()
					return
				}
			}
			var user models.User
			if err := db.DB.First(&user, userID).Error; err == nil {
				utils.GetCache().Set(cacheKey, &user, userCacheTTL)
				c.Set(CheckUserKey, &user)
			}
		}
		c.Next()
	}
}

// AuthRequired rejects unauthenticated API requests. Runs after LoadUser.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(CheckUserKey); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "You must be logged in to do that",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser pulls the loaded user off the request context, nil for
// anonymous callers.
func CurrentUser(c *gin.Context) *models.User {
	if val, exists := c.Get(CheckUserKey); exists {
		if user, ok := val.(*models.User); ok {
			return user
		}
	}
	return nil
}

// DropUserCache invalidates the cached row after a mutation so the next
// request sees fresh balances and flags.
func DropUserCache(userID uint) {
	utils.GetCache().Delete(fmt.Sprintf("user:%d", userID))
}
