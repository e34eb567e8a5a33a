// README: Trip handlers for estimate, request, lifecycle transitions, rating and queries.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/trip"
	"ridecore/internal/types"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

type routeReq struct {
	Pickup       *types.Location `json:"pickup" binding:"required"`
	Dropoff      *types.Location `json:"dropoff" binding:"required"`
	VehicleClass string          `json:"vehicle_class" binding:"required"`
}

type requestTripReq struct {
	routeReq
	PaymentMethod string `json:"payment_method"`
}

type estimateResponse struct {
	DistanceMeters  int64         `json:"distance_meters"`
	DurationSeconds int64         `json:"duration_seconds"`
	VehicleClass    string        `json:"vehicle_class"`
	Fare            moneyResponse `json:"fare"`
	Path            []types.Point `json:"path,omitempty"`
	Degraded        bool          `json:"degraded"`
}

func (h *TripHandler) Estimate(c *gin.Context) {
	var req routeReq
	if !bindJSON(c, &req) {
		return
	}
	est, err := h.trips.Estimate(c.Request.Context(), trip.EstimateCommand{
		Pickup:       *req.Pickup,
		Dropoff:      *req.Dropoff,
		VehicleClass: req.VehicleClass,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, estimateResponse{
		DistanceMeters:  est.DistanceMeters,
		DurationSeconds: est.DurationSeconds,
		VehicleClass:    est.VehicleClass,
		Fare:            toMoney(est.Fare),
		Path:            est.Path,
		Degraded:        est.Degraded,
	})
}

func (h *TripHandler) Request(c *gin.Context) {
	var req requestTripReq
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.RequestTrip(c.Request.Context(), trip.RequestCommand{
		RiderID:       types.ID(middleware.CallerUID(c)),
		Pickup:        *req.Pickup,
		Dropoff:       *req.Dropoff,
		VehicleClass:  req.VehicleClass,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toTripResponse(t))
}

// Current answers {"trip": null} when the caller has no active trip.
func (h *TripHandler) Current(c *gin.Context) {
	t, err := h.trips.ActiveFor(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if t == nil {
		writeJSON(c, http.StatusOK, gin.H{"trip": nil})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": toTripResponse(t)})
}

func (h *TripHandler) History(c *gin.Context) {
	trips, err := h.trips.History(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": toTripList(trips)})
}

type cancelReq struct {
	TripID string `json:"trip_id"`
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	var req cancelReq
	// The body is optional.
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:   types.ID(req.TripID),
		CallerID: types.ID(middleware.CallerUID(c)),
		Reason:   req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTripResponse(t))
}

func (h *TripHandler) Available(c *gin.Context) {
	trips, err := h.trips.AvailableFor(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": toTripList(trips)})
}

func (h *TripHandler) Accept(c *gin.Context) {
	t, err := h.trips.Accept(c.Request.Context(), trip.AcceptCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTripResponse(t))
}

func (h *TripHandler) Pickup(c *gin.Context) {
	t, err := h.trips.MarkPickup(c.Request.Context(), trip.PickupCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTripResponse(t))
}

type completeReq struct {
	PaymentConfirmed bool `json:"payment_confirmed"`
}

func (h *TripHandler) Complete(c *gin.Context) {
	var req completeReq
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.MarkComplete(c.Request.Context(), trip.CompleteCommand{
		TripID:           types.ID(c.Param("id")),
		DriverID:         types.ID(middleware.CallerUID(c)),
		PaymentConfirmed: req.PaymentConfirmed,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTripResponse(t))
}

type rateReq struct {
	DriverRating int    `json:"driver_rating"`
	TripRating   int    `json:"trip_rating"`
	Comment      string `json:"comment"`
}

func (h *TripHandler) Rate(c *gin.Context) {
	var req rateReq
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.Rate(c.Request.Context(), trip.RateCommand{
		TripID:       types.ID(c.Param("id")),
		RiderID:      types.ID(middleware.CallerUID(c)),
		DriverRating: req.DriverRating,
		TripRating:   req.TripRating,
		Comment:      req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rated": true, "trip": toTripResponse(t)})
}
