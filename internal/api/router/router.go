package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/sheetworks/internal/api/handler"
	"github.com/cuongbtq/sheetworks/shared/logger"
)

const serviceName = "sheetworks-api"

// multipartMemory caps how much of an upload gin keeps in memory before spilling to temp files
const multipartMemory = 32 << 20

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = multipartMemory

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	packageHandler := handler.NewPackageHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		projects := v1.Group("/projects/:project_id")
		{
			projects.POST("/packages", packageHandler.CreatePackage)
			projects.GET("/packages", packageHandler.ListPackages)
		}

		packages := v1.Group("/packages/:package_id")
		{
			packages.GET("", packageHandler.GetPackage)
			packages.POST("/documents/upload", packageHandler.UploadDocuments)
			packages.GET("/sheets", packageHandler.ListSheets)
			packages.GET("/jobs", packageHandler.ListPackageJobs)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed", logger.Err(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": serviceName,
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}
