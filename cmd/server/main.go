package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/workspace-hub/backend/api/handlers"
	"github.com/workspace-hub/backend/internal/db"
	"github.com/workspace-hub/backend/internal/repository"
	"github.com/workspace-hub/backend/internal/store"
	"github.com/workspace-hub/backend/internal/task"
	"github.com/workspace-hub/backend/internal/ws"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "4000")
	projectsDir := getEnv("PROJECTS_DIR", "projects")
	dbPath := getEnv("DB_PATH", "data/state.db")
	opencodeDir := getEnv("OPENCODE_DIR", "opencode")
	staticDir := getEnv("STATIC_DIR", "frontend/build")

	// Ensure data directories exist
	if err := os.MkdirAll(projectsDir, 0755); err != nil {
		log.Fatalf("Failed to create projects directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize store and load persisted state
	projectRepo := repository.NewProjectRepository(database)
	st := store.NewStore(projectRepo)
	if err := st.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load state: %v", err)
	}

	// Best-effort wrapper install; direct executions work without it
	opencode := task.NewOpenCode(opencodeDir)
	if err := opencode.EnsureInstalled(context.Background()); err != nil {
		log.Printf("Opencode unavailable, wrapped executions will fail: %v", err)
	}

	// Wire the real-time pipeline
	registry := ws.NewRegistry()
	dispatcher := ws.NewDispatcher(st, registry)
	runner := task.NewRunner(projectsDir, opencode, dispatcher)
	gateway := ws.NewHandler(st, dispatcher, runner)

	// Initialize handlers
	projectHandler := handlers.NewProjectHandler(st, projectsDir)
	wsHandler := handlers.NewWebSocketHandler(gateway)

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

	// API routes
	api := r.Group("/api")
	{
		projectHandler.RegisterRoutes(api)
	}

	// WebSocket route
	wsHandler.RegisterRoutes(r)

	// Frontend build with SPA fallback, when present
	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		r.NoRoute(spaFallback(staticDir))
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		registry.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", port)
	if err := r.Run(":" + port); err != nil {
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

// spaFallback serves files from the frontend build directory, falling
// back to index.html for client-side routes.
func spaFallback(staticDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != "GET" {
			c.AbortWithStatus(404)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}

		c.File(filepath.Join(staticDir, "index.html"))
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
