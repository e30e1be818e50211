package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/video-rooms/internal/models"
	"github.com/mossy-p/video-rooms/internal/presence"
)

// RecordPresence implements the fallback discovery upsert:
// GET /api/presence?room=&userId=&peerId=&t=
// The upsert never fails; the response lists the other active users so a
// single round trip both announces and discovers.
func RecordPresence(store presence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Query("room")
		userID := c.Query("userId")
		peerID := c.Query("peerId")

		if room == "" || userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
			return
		}

		store.RecordPresence(c.Request.Context(), room, userID, peerID)

		active := store.ListActive(c.Request.Context(), room, userID)
		resp := models.PresenceResponse{
			Room:        room,
			ActiveUsers: make([]string, 0, len(active)),
			PeerIDs:     make([]string, 0, len(active)),
		}
		for _, p := range active {
			resp.ActiveUsers = append(resp.ActiveUsers, p.UserID)
			if p.SignalingAddress != "" {
				resp.PeerIDs = append(resp.PeerIDs, p.SignalingAddress)
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}

// ListRoomUsers implements GET /api/room/:roomId/users. Stale entries are
// swept before the list is built; order is unspecified.
func ListRoomUsers(store presence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		active := store.ListActive(c.Request.Context(), roomID, "")
		resp := models.RoomUsersResponse{Users: make([]models.RoomUser, 0, len(active))}
		for _, p := range active {
			resp.Users = append(resp.Users, models.RoomUser{
				ID:       p.UserID,
				PeerID:   p.SignalingAddress,
				LastSeen: p.LastSeen.UnixMilli(),
			})
		}

		c.JSON(http.StatusOK, resp)
	}
}
