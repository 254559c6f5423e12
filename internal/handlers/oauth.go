package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"crowdlink/internal/apperror"
	"crowdlink/internal/db"
	"crowdlink/internal/middleware"
	"crowdlink/internal/models"
	"crowdlink/internal/utils"
)

// OAuth federation. Three providers, three actions each: login to an
// account already linked, signup for a fresh account seeded from the
// provider profile, and link to attach a provider to the current account.
// Failures redirect to /errors/<key> so the frontend can pick a message.

var oauthActions = map[string]bool{"login": true, "signup": true, "link": true}

var twitterEndpoint = oauth2.Endpoint{
	AuthURL:  "https://twitter.com/i/oauth2/authorize",
	TokenURL: "https://api.twitter.com/2/oauth2/token",
}

type oauthIdentity struct {
	ID       string
	Username string
	Emails   []string
}

type OAuthHandler struct {
	siteURL string
	configs map[string]*oauth2.Config
	client  *http.Client
}

func NewOAuthHandler() *OAuthHandler {
	siteURL := os.Getenv("SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:8080"
	}
	return &OAuthHandler{
		siteURL: siteURL,
		configs: map[string]*oauth2.Config{
			"gh": {
				ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
				ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
				Scopes:       []string{"user:email"},
				Endpoint:     github.Endpoint,
			},
			"tw": {
				ClientID:     os.Getenv("TWITTER_CLIENT_ID"),
				ClientSecret: os.Getenv("TWITTER_CLIENT_SECRET"),
				Scopes:       []string{"users.read", "tweet.read"},
				Endpoint:     twitterEndpoint,
			},
			"go": {
				ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
				ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
				Scopes: []string{
					"https://www.googleapis.com/auth/userinfo.email",
					"https://www.googleapis.com/auth/userinfo.profile",
				},
				Endpoint: google.Endpoint,
			},
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// config returns a per-request copy with the action baked into the
// callback URL.
func (h *OAuthHandler) config(provider, action string) *oauth2.Config {
	conf := *h.configs[provider]
	conf.RedirectURL = fmt.Sprintf("%s/callback/%s/%s", h.siteURL, provider, action)
	return &conf
}

// checkActionProvider rejects requests whose action makes no sense for
// the caller's current session.
func (h *OAuthHandler) checkActionProvider(c *gin.Context, provider, action string) bool {
	if !oauthActions[action] || h.configs[provider] == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "unknown OAuth action"})
		return false
	}
	user := middleware.CurrentUser(c)
	if action == "link" {
		if user == nil {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "You must be logged in to link an account"})
			return false
		}
		if user.LinkedAccounts()[provider] {
			c.Redirect(http.StatusFound, "/errors/oauth_already_linked")
			return false
		}
	}
	if (action == "signup" || action == "login") && user != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "You are already logged in"})
		return false
	}
	return true
}

func generateStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Start sends the user to the provider's consent page.
func (h *OAuthHandler) Start(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := c.Param("action")
		if !h.checkActionProvider(c, provider, action) {
			return
		}
		state, err := generateStateToken()
		if err != nil {
			respondError(c, err)
			return
		}
		session := sessions.Default(c)
		session.Set("oauth_state", state)
		session.Save()

		url := h.config(provider, action).AuthCodeURL(state, oauth2.AccessTypeOffline)
		c.Redirect(http.StatusTemporaryRedirect, url)
	}
}

// Callback handles the provider's return leg for all three actions.
func (h *OAuthHandler) Callback(c *gin.Context) {
	provider := c.Param("provider")
	action := c.Param("action")
	if !h.checkActionProvider(c, provider, action) {
		return
	}

	session := sessions.Default(c)
	savedState := session.Get("oauth_state")
	session.Delete("oauth_state")
	session.Save()
	if savedState == nil || c.Query("state") != savedState.(string) {
		c.Redirect(http.StatusFound, "/errors/oauth_error")
		return
	}

	code := c.Query("code")
	if code == "" || c.Query("error") != "" {
		logrus.WithFields(logrus.Fields{
			"provider": provider,
			"action":   action,
			"reason":   c.Query("error"),
		}).Warn("OAuth request denied")
		c.Redirect(http.StatusFound, "/")
		return
	}

	token, err := h.config(provider, action).Exchange(context.Background(), code)
	if err != nil {
		logrus.WithError(err).Warn("OAuth token exchange failed")
		c.Redirect(http.StatusFound, "/errors/oauth_comm_error")
		return
	}

	ident, err := h.fetchIdentity(provider, token.AccessToken)
	if err != nil {
		logrus.WithError(err).Warn("OAuth identity fetch failed")
		c.Redirect(http.StatusFound, "/errors/oauth_comm_error")
		return
	}

	switch action {
	case "link":
		h.link(c, provider, ident, token.AccessToken)
	default:
		h.loginOrSignup(c, provider, action, ident, token.AccessToken)
	}
}

func (h *OAuthHandler) link(c *gin.Context, provider string, ident *oauthIdentity, rawToken string) {
	user := middleware.CurrentUser(c)

	var other models.User
	err := db.DB.Where(providerIDColumn(provider)+" = ?", ident.ID).First(&other).Error
	if err == nil && other.ID != user.ID {
		c.Redirect(http.StatusFound, "/errors/oauth_linked_other")
		return
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		respondError(c, err)
		return
	}

	err = db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(map[string]interface{}{
			providerIDColumn(provider):    ident.ID,
			providerTokenColumn(provider): rawToken,
		}).Error; err != nil {
			return err
		}
		// provider-verified addresses arrive pre-verified
		for _, addr := range ident.Emails {
			var count int64
			if err := tx.Model(&models.EmailAddress{}).
				Where("address = ?", addr).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			email := models.EmailAddress{UserID: user.ID, Address: addr, Verified: true}
			if err := tx.Create(&email).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.Redirect(http.StatusFound, "/errors/oauth_linked_other")
		return
	}
	middleware.DropUserCache(user.ID)
	c.Redirect(http.StatusFound, "/account")
}

func (h *OAuthHandler) loginOrSignup(c *gin.Context, provider, action string, ident *oauthIdentity, rawToken string) {
	var existing models.User
	err := db.DB.Where(providerIDColumn(provider)+" = ?", ident.ID).First(&existing).Error
	if err == nil {
		// signup with an already-linked identity just logs them in
		h.startSession(c, existing.ID)
		c.Redirect(http.StatusFound, "/home")
		return
	}
	if err != gorm.ErrRecordNotFound {
		respondError(c, err)
		return
	}

	if action == "login" {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	for _, addr := range ident.Emails {
		var count int64
		if err := db.DB.Model(&models.EmailAddress{}).
			Where("address = ?", addr).Count(&count).Error; err != nil {
			respondError(c, err)
			return
		}
		if count > 0 {
			c.Redirect(http.StatusFound, "/errors/oauth_email_present")
			return
		}
	}

	user, err := h.createFromIdentity(provider, ident, rawToken)
	if err != nil {
		logrus.WithError(err).Error("OAuth signup failed")
		c.Redirect(http.StatusFound, "/errors/oauth_error")
		return
	}
	h.startSession(c, user.ID)
	c.Redirect(http.StatusFound, "/home")
}

func (h *OAuthHandler) createFromIdentity(provider string, ident *oauthIdentity, rawToken string) (*models.User, error) {
	username := strings.ToLower(strings.TrimSpace(ident.Username))
	if username == "" {
		username = provider + "-" + utils.GenerateRandomCode(6)
	}
	var count int64
	if err := db.DB.Model(&models.User{}).
		Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		username = username + "-" + utils.GenerateRandomCode(4)
	}

	// no password login until they set one; the account rides the link
	hash, err := utils.HashPassword(utils.GenerateRandomCode(20))
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:    username,
		Password:    hash,
		IsActivated: true,
	}
	switch provider {
	case "gh":
		user.GhID, user.GhToken = ident.ID, rawToken
	case "tw":
		user.TwID, user.TwToken = ident.ID, rawToken
	case "go":
		user.GoID, user.GoToken = ident.ID, rawToken
	}

	err = db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		for i, addr := range ident.Emails {
			email := models.EmailAddress{
				UserID:   user.ID,
				Address:  addr,
				Primary:  i == 0,
				Verified: true,
			}
			if err := tx.Create(&email).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (h *OAuthHandler) startSession(c *gin.Context, userID uint) {
	session := sessions.Default(c)
	session.Set("user_id", userID)
	session.Save()
}

func providerIDColumn(provider string) string {
	return provider + "_id"
}

func providerTokenColumn(provider string) string {
	return provider + "_token"
}

// fetchIdentity pulls the provider id, preferred username and verified
// email addresses from the provider's profile API.
func (h *OAuthHandler) fetchIdentity(provider, accessToken string) (*oauthIdentity, error) {
	switch provider {
	case "gh":
		var profile struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
		}
		if err := h.getJSON("https://api.github.com/user", accessToken, &profile); err != nil {
			return nil, err
		}
		var emails []struct {
			Email    string `json:"email"`
			Verified bool   `json:"verified"`
		}
		if err := h.getJSON("https://api.github.com/user/emails", accessToken, &emails); err != nil {
			return nil, err
		}
		ident := &oauthIdentity{ID: strconv.FormatInt(profile.ID, 10), Username: profile.Login}
		for _, mail := range emails {
			if mail.Verified {
				ident.Emails = append(ident.Emails, strings.ToLower(mail.Email))
			}
		}
		return ident, nil

	case "go":
		var profile struct {
			ID            string `json:"id"`
			Email         string `json:"email"`
			VerifiedEmail bool   `json:"verified_email"`
		}
		if err := h.getJSON("https://www.googleapis.com/oauth2/v2/userinfo", accessToken, &profile); err != nil {
			return nil, err
		}
		ident := &oauthIdentity{ID: profile.ID}
		if profile.Email != "" {
			ident.Username = strings.SplitN(profile.Email, "@", 2)[0]
			if profile.VerifiedEmail {
				ident.Emails = []string{strings.ToLower(profile.Email)}
			}
		}
		return ident, nil

	case "tw":
		var profile struct {
			Data struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"data"`
		}
		if err := h.getJSON("https://api.twitter.com/2/users/me", accessToken, &profile); err != nil {
			return nil, err
		}
		return &oauthIdentity{ID: profile.Data.ID, Username: profile.Data.Username}, nil
	}
	return nil, apperror.Comm("oauth_comm_error", "Unknown OAuth provider", nil)
}

func (h *OAuthHandler) getJSON(url, accessToken string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return apperror.Comm("oauth_comm_error",
			"Populating user information from the provider failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.Comm("oauth_comm_error",
			"Populating user information from the provider failed",
			fmt.Errorf("provider returned %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Comm("oauth_comm_error",
			"Populating user information from the provider failed", err)
	}
	return nil
}
