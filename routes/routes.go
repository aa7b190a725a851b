package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/pilievwm/ccimageupload/controllers"
	"github.com/pilievwm/ccimageupload/middleware"
)

// Options configures route-level middleware.
type Options struct {
	JWTSecret string
	// UploadsPerMinute limits uploads per client IP. Zero disables it.
	UploadsPerMinute int
}

// RegisterRoutes registers the intake and status routes
func RegisterRoutes(r *gin.Engine, ctrl *controllers.JobController, opts Options) {
	r.GET("/health", controllers.Health)

	api := r.Group("/api", middleware.AuthMiddleware(opts.JWTSecret))
	{
		api.POST("/uploads", middleware.RateLimitMiddleware(opts.UploadsPerMinute, opts.UploadsPerMinute), ctrl.Upload)

		api.GET("/jobs", ctrl.ListJobs)
		api.GET("/jobs/:id", ctrl.GetJob)
		api.DELETE("/jobs/:id", ctrl.CancelJob)

		api.GET("/status", ctrl.Status)
	}
}
