// README: Push channel endpoint; hands the upgraded connection to the notification hub.
package handlers

import (
	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/notify"
)

type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve writes its own error response when the upgrade fails.
func (h *WSHandler) Serve(c *gin.Context) {
	if err := h.hub.Serve(c.Writer, c.Request, callerID(c)); err != nil {
		_ = c.Error(err)
	}
}
