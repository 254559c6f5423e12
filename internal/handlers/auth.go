package handlers

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"crowdlink/internal/db"
	"crowdlink/internal/middleware"
	"crowdlink/internal/services"
)

type AuthHandler struct {
	mailService *services.MailService
}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{
		mailService: services.GetMailService(),
	}
}

type signupRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	EmailAddress string `json:"email_address" binding:"required"`
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "username, password and email_address are required",
		})
		return
	}
	user, err := services.CreateUser(db.DB, req.Username, req.Password, req.EmailAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	h.startSession(c, user.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "user_id": user.ID})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "username and password are required",
		})
		return
	}
	user, err := services.Authenticate(db.DB, req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.startSession(c, user.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "user_id": user.ID})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if user := middleware.CurrentUser(c); user != nil {
		middleware.DropUserCache(user.ID)
	}
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Activate consumes an email confirmation code from the mailed link.
func (h *AuthHandler) Activate(c *gin.Context) {
	user, err := services.ActivateEmail(db.DB, c.Query("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	middleware.DropUserCache(user.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type recoverRequest struct {
	EmailAddress string `json:"email_address" binding:"required"`
}

func (h *AuthHandler) Recover(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "email_address is required",
		})
		return
	}
	if err := services.StartRecovery(db.DB, req.EmailAddress); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type resetRequest struct {
	Code     string `json:"code" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "code and password are required",
		})
		return
	}
	if err := services.ResetPassword(db.DB, req.Code, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) startSession(c *gin.Context, userID uint) {
	session := sessions.Default(c)
	session.Set("user_id", userID)
	session.Save()
}
