package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/lwneal/sharescript/api/handlers"
	"github.com/lwneal/sharescript/internal/buffer"
	"github.com/lwneal/sharescript/internal/config"
	"github.com/lwneal/sharescript/internal/db"
	"github.com/lwneal/sharescript/internal/frontend"
	"github.com/lwneal/sharescript/internal/pty"
	"github.com/lwneal/sharescript/internal/repository"
	"github.com/lwneal/sharescript/internal/session"
	"github.com/lwneal/sharescript/internal/ws"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG", "config.yaml"), "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directories exist
	castDir := filepath.Join(cfg.DataDir, "casts")
	if err := os.MkdirAll(castDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	runRepo := repository.NewRunRepository(database)

	// Core: replay buffer, fan-out hub, PTY supervisor, run controller
	replay := buffer.NewReplayBuffer(cfg.Replay.Capacity, cfg.Replay.Retained)
	hub := ws.NewHub(replay)
	defer hub.Close()

	supervisor := pty.NewSupervisor()
	supervisor.Rows = cfg.Script.Rows
	supervisor.Cols = cfg.Script.Cols

	controller := session.NewController(hub, supervisor, session.Options{
		ScriptPath:      cfg.Script.Path,
		CreateIfMissing: cfg.Script.CreateIfMissing,
		ShutdownGrace:   cfg.Script.ShutdownGrace,
		CastDir:         castDir,
		Repo:            runRepo,
	})

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(ws.NewHandler(hub, controller))
	runHandler := handlers.NewRunHandler(runRepo, controller)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// Viewer page and WebSocket attach
	r.GET("/ws", wsHandler.Attach)
	r.NoRoute(gin.WrapH(frontend.Handler()))

	// API routes
	api := r.Group("/api")
	{
		runHandler.RegisterRoutes(api)
	}

	// Graceful shutdown: terminate any running script's whole process group
	// before exiting
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		controller.Shutdown()
		hub.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on %s (script: %s)", cfg.Addr(), cfg.Script.Path)
	if err := r.Run(cfg.Addr()); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
