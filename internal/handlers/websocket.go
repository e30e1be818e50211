package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/video-rooms/internal/relay"
	"github.com/mossy-p/video-rooms/internal/rooms"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the connection and hands it to the relay.
// Accepts a room code or ID. The client brings its own userId (stable per
// tab); a server-generated one is the fallback.
func HandleSignaling(rly *relay.Relay, dir rooms.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomIdentifier := c.Param("roomId")
		if roomIdentifier == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
			return
		}

		// Rooms with metadata enforce capacity; unknown room IDs join
		// implicitly.
		roomID, roomMetadata, err := ResolveRoom(c.Request.Context(), dir, roomIdentifier)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if roomMetadata != nil && roomMetadata.MaxParticipants > 0 &&
			rly.MemberCount(roomID) >= roomMetadata.MaxParticipants {
			c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
			return
		}

		userID := c.Query("userId")
		if userID == "" {
			userID = uuid.New().String()
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		rly.Join(roomID, userID, conn)
	}
}
