package main

import (
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"crowdlink/internal/acl"
	"crowdlink/internal/db"
	"crowdlink/internal/middleware"
	"crowdlink/internal/router"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, finding env vars from system")
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Permissions are data, not code. Everything permission-related
	// lives in the ACL file.
	aclPath := os.Getenv("ACL_FILE")
	if aclPath == "" {
		aclPath = "configs/acl.yml"
	}
	index, err := acl.LoadFile(aclPath)
	if err != nil {
		logrus.Fatalf("Failed to load ACL file %s: %v", aclPath, err)
	}
	acl.SetDefault(index)

	// Initialize Database
	db.Init()
	if os.Getenv("PROVISION_DEMO") == "true" {
		db.Provision()
	}

	// Initialize Gin
	r := gin.Default()

	// Setup Sessions
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = "secret_key_change_me"
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions("crowdlink_session", store))

	// Middleware
	r.Use(middleware.LoadUser())

	router.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logrus.Infof("Crowdlink server starting on :%s", port)
	if err := r.Run(":" + port); err != nil {
		logrus.Fatal(err)
	}
}
