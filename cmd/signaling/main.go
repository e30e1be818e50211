package main

import (
	"log"
	"time"

	"github.com/mossy-p/video-rooms/config"
	"github.com/mossy-p/video-rooms/internal/handlers"
	"github.com/mossy-p/video-rooms/internal/middleware"
	"github.com/mossy-p/video-rooms/internal/presence"
	"github.com/mossy-p/video-rooms/internal/redis"
	"github.com/mossy-p/video-rooms/internal/relay"
	"github.com/mossy-p/video-rooms/internal/rooms"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis; presence and room state fall back to process
	// memory without it
	var store presence.Store
	var dir rooms.Directory
	if client, err := redis.New(cfg.Redis); err != nil {
		log.Printf("Redis unavailable, using in-memory presence and room directory: %v", err)
		store = presence.NewMemoryStore(cfg.PresenceStale, nil)
		dir = rooms.NewMemoryDirectory()
	} else {
		log.Println("Redis connection established")
		defer client.Close()
		store = presence.NewRedisStore(client, cfg.PresenceStale, nil)
		dir = rooms.NewRedisDirectory(client)
	}

	rly := relay.New(store)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Room management + fallback discovery API
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Create room (requires JWT)
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), handlers.CreateRoom(dir))

		// Get room info (public)
		apiGroup.GET("/rooms/:roomId", handlers.GetRoom(dir, store))

		// Delete room (requires JWT, creator only)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), handlers.DeleteRoom(dir))

		// Presence upsert + room member enumeration (public, best-effort)
		apiGroup.GET("/presence", handlers.RecordPresence(store))
		apiGroup.GET("/room/:roomId/users", handlers.ListRoomUsers(store))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		// WebSocket signaling - accepts room code or ID
		wsGroup.GET("/signal/:roomId", handlers.HandleSignaling(rly, dir))
	}

	// Start server
	log.Printf("Starting signaling server on port %s (presence stale %s)",
		cfg.Port, cfg.PresenceStale.Round(time.Second))
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
