package relay

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/trellis/internal/auth"
	"github.com/Ramsey-B/trellis/internal/store"
	"github.com/Ramsey-B/trellis/pkg/appctx"
	"github.com/Ramsey-B/trellis/pkg/metrics"
)

// Handler exposes the room websocket and the admin surface. Authentication
// and community checks happen before the upgrade, so rejected clients get a
// plain 401/403 instead of a broken socket.
type Handler struct {
	hub      *Hub
	auth     auth.Authenticator
	logger   ectologger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, authenticator auth.Authenticator, logger ectologger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		auth:   authenticator,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay sits behind the app's own ingress; browsers reach it
			// same-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the relay under /editor.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	group := e.Group("/editor")
	group.GET("/ws/:community/:diagram", h.ServeRoom)
	group.DELETE("/rooms/:community/:diagram", h.ClearRoom)
}

// ServeRoom admits one websocket client into a room.
func (h *Handler) ServeRoom(c echo.Context) error {
	ctx := c.Request().Context()
	community := c.Param("community")
	diagram := c.Param("diagram")

	user, err := h.auth.Authenticate(ctx, c.Request())
	if err != nil {
		metrics.AuthDecisions.WithLabelValues("unauthenticated").Inc()
		metrics.RecordConnection(community, "unauthenticated")
		return httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	if !auth.CanAccess(user, community) {
		metrics.AuthDecisions.WithLabelValues("denied").Inc()
		metrics.RecordConnection(community, "denied")
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"user_id":   user.ID,
			"community": community,
		}).Warn("community access denied")
		return httperror.NewHTTPError(http.StatusForbidden, "access to this community is not allowed")
	}
	metrics.AuthDecisions.WithLabelValues("allowed").Inc()

	ctx = appctx.SetUserID(ctx, user.ID)
	ctx = appctx.SetUserName(ctx, user.Name)
	ctx = appctx.SetCommunity(ctx, community)
	ctx = appctx.SetRoomID(ctx, RoomID(community, diagram))

	room, err := h.hub.Room(ctx, community, diagram)
	if err != nil {
		metrics.RecordConnection(community, "error")
		h.logger.WithContext(ctx).WithError(err).WithField("diagram_id", diagram).Error("failed to bind room")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open diagram")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote its own response.
		metrics.RecordConnection(community, "upgrade_failed")
		return nil
	}
	metrics.RecordConnection(community, "accepted")

	client := newClient(conn, uuid.NewString(), user, room)
	if err := room.join(ctx, client); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("room_id", room.ID()).Error("failed to join room")
		client.close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// ClearRoom wipes an ephemeral room's records. Admin only; the update log
// refuses non-ephemeral rooms regardless of caller.
func (h *Handler) ClearRoom(c echo.Context) error {
	ctx := c.Request().Context()
	community := c.Param("community")
	diagram := c.Param("diagram")

	user, err := h.auth.Authenticate(ctx, c.Request())
	if err != nil {
		return httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if !user.IsAdmin {
		return httperror.NewHTTPError(http.StatusForbidden, "admin access required")
	}

	if err := h.hub.Clear(ctx, community, diagram, user); err != nil {
		if errors.Is(err, store.ErrClearNotAllowed) {
			return httperror.NewHTTPError(http.StatusBadRequest, "only test rooms may be cleared")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
