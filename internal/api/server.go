// Package api provides the HTTP API server for the LLM Gate API: the
// gin engine, routing for the OpenAI- and Ollama-compatible frontends,
// and the CORS and authentication middleware.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/api/handlers"
	"github.com/llmgate/LLMGateAPI/internal/api/handlers/ollama"
	"github.com/llmgate/LLMGateAPI/internal/api/handlers/openai"
	"github.com/llmgate/LLMGateAPI/internal/api/middleware"
	"github.com/llmgate/LLMGateAPI/internal/cancellation"
	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// Server is the HTTP API server.
type Server struct {
	engine *gin.Engine
	server *http.Server
	base   *handlers.BaseHandler
	cfg    *config.Config
}

// NewServer creates and wires the API server: engine, middleware,
// frontend routes.
func NewServer(cfg *config.Config, runner interfaces.WorkflowRunner, userCfg *config.UserConfig) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.AccessLog())
	engine.Use(corsMiddleware())

	s := &Server{
		engine: engine,
		base:   handlers.NewBaseHandler(runner, cancellation.Default, cfg, userCfg),
		cfg:    cfg,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

// setupRoutes binds the frontend endpoints.
func (s *Server) setupRoutes() {
	openaiHandlers := openai.NewHandler(s.base)
	ollamaHandlers := ollama.NewHandler(s.base)
	auth := AuthMiddleware(s.cfg)

	// OpenAI-compatible routes, with and without the /v1 prefix.
	v1 := s.engine.Group("/v1")
	v1.Use(auth)
	{
		v1.GET("/models", openaiHandlers.Models)
		v1.POST("/chat/completions", openaiHandlers.ChatCompletions)
		v1.POST("/completions", openaiHandlers.Completions)
	}
	s.engine.GET("/models", auth, openaiHandlers.Models)
	s.engine.POST("/chat/completions", auth, openaiHandlers.ChatCompletions)
	s.engine.POST("/completions", auth, openaiHandlers.Completions)

	// Ollama-compatible routes.
	apiGroup := s.engine.Group("/api")
	apiGroup.Use(auth)
	{
		apiGroup.POST("/chat", ollamaHandlers.Chat)
		apiGroup.DELETE("/chat", ollamaHandlers.Cancel)
		apiGroup.POST("/generate", ollamaHandlers.Generate)
		apiGroup.DELETE("/generate", ollamaHandlers.Cancel)
		apiGroup.GET("/tags", ollamaHandlers.Tags)
		apiGroup.GET("/version", ollamaHandlers.Version)
	}
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	log.Infof("starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// corsMiddleware allows browser clients from any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware checks client API keys when any are configured. The key
// may arrive as a bearer token, a raw Authorization header, or a "key"
// query parameter.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(cfg.APIKeys) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		apiKeyQuery, _ := c.GetQuery("key")
		if authHeader == "" && apiKeyQuery == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}

		apiKey := authHeader
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			apiKey = parts[1]
		}

		for _, key := range cfg.APIKeys {
			if key == apiKey || key == apiKeyQuery {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
	}
}
