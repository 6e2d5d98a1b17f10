package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wa-bot-go/internal/api/handlers"
	"wa-bot-go/internal/api/middleware"
	"wa-bot-go/internal/api/websocket"
	"wa-bot-go/internal/bot"
	"wa-bot-go/internal/config"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/utils"

	"github.com/gin-gonic/gin"
)

// Server represents the HTTP server
type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	WSHub   *websocket.Hub
	Handler *handlers.Handler

	http *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, b *bot.Bot, hub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	s := &Server{
		Config:  cfg,
		Router:  router,
		WSHub:   hub,
		Handler: handlers.NewHandler(b.Dispatcher, b.Store, b.Store),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.Router.Use(middleware.CORSMiddleware(s.Config.AllowedDomains))

	// Health check endpoints (no auth required)
	s.Router.GET("/", s.Handler.HealthCheck)
	s.Router.GET("/status", middleware.APIKeyRequired(s.Config.APIKey), s.Handler.GetStatus)

	// WebSocket endpoint
	s.Router.GET("/ws", middleware.AuthMiddleware(s.Config.JWTSecret), s.WSHub.HandleWebSocket)

	wa := s.Router.Group("/api/whatsapp")
	wa.Use(middleware.AuthMiddleware(s.Config.JWTSecret))
	{
		wa.POST("", s.Handler.WhatsAppAction)
		wa.GET("/connection", s.Handler.GetConnection)
		wa.GET("/errors", s.Handler.GetErrors)
		wa.GET("/errors/export", middleware.RequireRole(utils.RoleAdmin), s.Handler.ExportErrors)
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.Config.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("WhatsApp bot listening", "port", s.Config.Port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
