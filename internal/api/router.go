package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/eventface/internal/api/handlers"
	"github.com/your-org/eventface/internal/api/ws"
	"github.com/your-org/eventface/internal/auth"
	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/storage"
)

type RouterConfig struct {
	// APIKey guards event administration; empty disables the check.
	APIKey         string
	MaxUploadBytes int64
	Store          storage.DescriptorStore
	Ingestor       *pipeline.Ingestor
	Querier        *pipeline.Querier
	Hub            *ws.Hub
	// Optional collaborators; nil when not configured.
	Objects     *storage.PhotoObjects
	Index       handlers.IndexForgetter
	ReadyChecks map[string]handlers.Pinger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.ReadyChecks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var photoObjects handlers.ObjectDeleter
	var eventObjects handlers.EventObjects
	if cfg.Objects != nil {
		photoObjects = cfg.Objects
		eventObjects = cfg.Objects
	}

	photoH := handlers.NewPhotoHandler(cfg.Store, cfg.Ingestor, photoObjects, cfg.MaxUploadBytes)
	matchH := handlers.NewMatchHandler(cfg.Querier, cfg.MaxUploadBytes)
	eventH := handlers.NewEventHandler(cfg.Store, eventObjects, cfg.Index)

	v1 := r.Group("/v1")

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	v1.POST("/events/:code/photos", photoH.Upload)
	v1.GET("/events/:code/photos/:photoId", photoH.Get)
	v1.POST("/events/:code/match", matchH.Match)
	v1.GET("/events/:code/stats", eventH.Stats)

	admin := v1.Group("")
	admin.Use(auth.APIKeyMiddleware(cfg.APIKey))
	admin.PUT("/events/:code", eventH.Create)
	admin.DELETE("/events/:code", eventH.Delete)
	admin.DELETE("/events/:code/photos/:photoId", photoH.Delete)

	return r
}
