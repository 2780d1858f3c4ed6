package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/psky-chat/psky-relay/internal/database"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/_health", s.handleHealth)
	s.echo.GET("/rooms", s.handleListRooms)
	s.echo.GET("/messages", s.handleListMessages)
	s.echo.GET("/users/:did", s.handleGetUser)
	s.echo.GET("/subscribe", s.handleSubscribe)
}

// handleHealth returns basic server health information.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version": "0.1.0",
	})
}

// pagination reads limit/cursor query params with the given default and
// a hard cap of 100.
func pagination(c echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v >= 1 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("cursor")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// handleListRooms returns mirrored rooms, most recently updated first.
// GET /rooms?limit=50&cursor=0
func (s *Server) handleListRooms(c echo.Context) error {
	limit, offset := pagination(c, 50)

	rooms, err := s.mirror.ListRooms(c.Request().Context(), limit, offset)
	if err != nil {
		log.Printf("Error listing rooms: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to list rooms",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"cursor": offset + len(rooms),
		"rooms":  rooms,
	})
}

// handleListMessages returns a room's messages joined with author
// identity, newest first.
// GET /messages?room=at://...&limit=50&cursor=0
func (s *Server) handleListMessages(c echo.Context) error {
	room := c.QueryParam("room")
	if room == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "room query parameter is required",
		})
	}
	limit, offset := pagination(c, 50)

	msgs, err := s.mirror.ListMessages(c.Request().Context(), room, limit, offset)
	if err != nil {
		log.Printf("Error listing messages for %q: %v", room, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to list messages",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"cursor":   offset + len(msgs),
		"messages": msgs,
	})
}

// handleGetUser returns the mirrored user row for a DID.
// GET /users/:did
func (s *Server) handleGetUser(c echo.Context) error {
	did := c.Param("did")

	user, err := s.mirror.GetUser(c.Request().Context(), did)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error":   "UserNotFound",
				"message": "No mirrored user for DID: " + did,
			})
		}
		log.Printf("Error getting user %q: %v", did, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to get user",
		})
	}

	return c.JSON(http.StatusOK, user)
}
