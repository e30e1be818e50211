package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mossy-p/video-rooms/internal/models"
	"github.com/mossy-p/video-rooms/internal/presence"
	"github.com/mossy-p/video-rooms/internal/rooms"
)

// CreateRoom registers a new room with a shareable code (requires
// authentication; the token's identity becomes the creator).
func CreateRoom(dir rooms.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Default capacity if not specified
		if req.MaxParticipants == 0 {
			req.MaxParticipants = 8
		}

		room := models.RoomMetadata{
			ID:              uuid.New().String(),
			Code:            rooms.NewCode(),
			CreatorID:       userID.(string),
			CreatedAt:       time.Now(),
			MaxParticipants: req.MaxParticipants,
		}
		if err := dir.Create(c.Request.Context(), &room); err != nil {
			log.Printf("Failed to store room: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		log.Printf("Room created: %s (code: %s) by user %s", room.ID, room.Code, room.CreatorID)

		c.JSON(http.StatusCreated, models.CreateRoomResponse{
			RoomID: room.ID,
			Code:   room.Code,
		})
	}
}

// GetRoom returns room metadata by code or ID (public). The participant
// count comes from the presence store, swept to active entries.
func GetRoom(dir rooms.Directory, store presence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := dir.Lookup(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		room.ParticipantCount = len(store.ListActive(c.Request.Context(), room.ID, ""))

		c.JSON(http.StatusOK, room)
	}
}

// DeleteRoom removes a room (requires authentication; creator only).
func DeleteRoom(dir rooms.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		room, err := dir.Lookup(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		if room.CreatorID != userID.(string) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
			return
		}

		if err := dir.Delete(c.Request.Context(), room); err != nil {
			log.Printf("Failed to delete room %s: %v", room.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
			return
		}

		log.Printf("Room deleted: %s by user %s", room.ID, userID)

		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	}
}

// ResolveRoom maps a room code or ID to the room ID plus metadata when any
// exists. Rooms are created implicitly on first join, so an unknown ID is
// not an error; only an unresolvable short code is.
func ResolveRoom(ctx context.Context, dir rooms.Directory, roomIdentifier string) (string, *models.RoomMetadata, error) {
	room, err := dir.Lookup(ctx, roomIdentifier)
	if err == nil {
		return room.ID, room, nil
	}

	// A short code that resolved to nothing is a bad link worth rejecting
	if len(roomIdentifier) == rooms.CodeLength && errors.Is(err, rooms.ErrNotFound) {
		return "", nil, err
	}

	return roomIdentifier, nil, nil
}
