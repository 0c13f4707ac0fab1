package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/kbase/internal/api/handler"
	"github.com/timmy/kbase/internal/api/middleware"
	"github.com/timmy/kbase/internal/logger"
	"github.com/timmy/kbase/internal/service"
)

// Services bundles everything the router needs.
type Services struct {
	Business  *service.BusinessService
	Processor *service.DocumentProcessor
	Documents service.DocumentStore
	Search    *service.HybridSearchEngine
	Query     *service.QueryEngine
	Sync      *service.SyncManager
}

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - svcs: wired service instances.
//   - log: base logger for request logging.
//   - mode: Gin mode (release, test or debug).
//   - cors: CORS configuration.
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(svcs *Services, log *logger.Logger, mode string, cors middleware.CORSConfig) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler()
	businessHandler := handler.NewBusinessHandler(svcs.Business)
	documentHandler := handler.NewDocumentHandler(svcs.Processor, svcs.Documents)
	searchHandler := handler.NewSearchHandler(svcs.Search, svcs.Query)
	syncHandler := handler.NewSyncHandler(svcs.Sync)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Businesses
		v1.POST("/businesses", businessHandler.CreateBusiness)
		v1.GET("/businesses", businessHandler.ListBusinesses)
		v1.GET("/businesses/:id", businessHandler.GetBusiness)
		v1.DELETE("/businesses/:id", businessHandler.DeleteBusiness)
		v1.GET("/businesses/:id/stats", businessHandler.GetStats)

		// Documents
		v1.POST("/businesses/:id/documents", documentHandler.SubmitDocument)
		v1.GET("/businesses/:id/documents", documentHandler.ListDocuments)
		v1.GET("/documents/:id", documentHandler.GetDocument)
		v1.GET("/documents/:id/chunks", documentHandler.ListChunks)
		v1.DELETE("/documents/:id", documentHandler.DeleteDocument)

		// Retrieval
		v1.POST("/search", searchHandler.Search)
		v1.POST("/query", searchHandler.Query)

		// Reconciliation
		v1.POST("/businesses/:id/reconcile", syncHandler.Reconcile)
		v1.POST("/reconcile", syncHandler.ReconcileAll)
	}

	return r
}
