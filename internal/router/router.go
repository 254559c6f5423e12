package router

import (
	"crowdlink/internal/handlers"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine) {
	// Handlers
	handlers.RegisterResources()
	apiHandler := handlers.NewAPIHandler()
	authHandler := handlers.NewAuthHandler()
	oauthHandler := handlers.NewOAuthHandler()

	// Account lifecycle
	r.POST("/signup", authHandler.Signup)
	r.POST("/login", authHandler.Login)
	r.GET("/logout", authHandler.Logout)
	r.GET("/activate", authHandler.Activate)
	r.POST("/recover", authHandler.Recover)
	r.POST("/reset", authHandler.Reset)

	// OAuth federation
	r.GET("/gh/:action", oauthHandler.Start("gh"))
	r.GET("/tw/:action", oauthHandler.Start("tw"))
	r.GET("/go/:action", oauthHandler.Start("go"))
	r.GET("/callback/:provider/:action", oauthHandler.Callback)

	// The generic resource dispatcher. GET is public; per-object
	// permissions are enforced inside, so anonymous reads work where the
	// ACL allows them.
	resource := r.Group("/api")
	{
		resource.GET("/:resource", apiHandler.Get)
		resource.POST("/:resource", apiHandler.Post)
		resource.PUT("/:resource", apiHandler.Put)
		resource.PATCH("/:resource", apiHandler.Patch)
		resource.DELETE("/:resource", apiHandler.Delete)
	}
}
