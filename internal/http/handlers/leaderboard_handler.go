// README: Leaderboard handler over the completed-trip ranking.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/ranking"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

type LeaderboardHandler struct {
	ledger ranking.Ledger
}

func NewLeaderboardHandler(ledger ranking.Ledger) *LeaderboardHandler {
	return &LeaderboardHandler{ledger: ledger}
}

func (h *LeaderboardHandler) Top(c *gin.Context) {
	n := defaultLeaderboardSize
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, "invalid n")
			return
		}
		n = min(parsed, maxLeaderboardSize)
	}
	entries, err := h.ledger.TopN(c.Request.Context(), n)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": entries})
}
