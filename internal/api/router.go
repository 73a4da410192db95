package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/embedr/internal/api/handler"
	"github.com/timmy/embedr/internal/api/middleware"
	"github.com/timmy/embedr/internal/logger"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	ingest handler.IngestService,
	checks map[string]handler.HealthCheck,
	metricsHandler http.Handler,
	cors middleware.CORSConfig,
	log *logger.Logger,
	mode string,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler(checks)
	ingestHandler := handler.NewIngestHandler(ingest, log)

	// Health check
	r.GET("/health", healthHandler.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Ingest
		v1.POST("/ingest", ingestHandler.Submit)
		v1.GET("/ingest", ingestHandler.BatchProgress)

		// Batches
		v1.GET("/batches/:id", ingestHandler.BatchProgress)
		v1.GET("/batches/:id/tasks/:task", ingestHandler.GetTask)

		// Items
		v1.GET("/items/:id", ingestHandler.GetItem)
	}

	return r
}
