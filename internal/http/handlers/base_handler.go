// README: Base handler utilities (JSON helpers, error mapping, response shapes).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/trip"
	"ridecore/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors onto status codes; anything unrecognised is a 500
// and its text is not echoed back.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrValidation),
		errors.Is(err, driver.ErrInvalidVehicle),
		errors.Is(err, driver.ErrNoVehicle),
		errors.Is(err, location.ErrInvalidPoint):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, trip.ErrNotFound), errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrStateConflict),
		errors.Is(err, trip.ErrVehicleMismatch),
		errors.Is(err, driver.ErrWorking),
		errors.Is(err, driver.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

type moneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func toMoney(m types.Money) moneyResponse {
	return moneyResponse{Amount: m.Amount, Currency: m.Currency}
}

type tripResponse struct {
	ID              types.ID       `json:"id"`
	RiderID         types.ID       `json:"rider_id"`
	DriverID        *types.ID      `json:"driver_id,omitempty"`
	Pickup          types.Location `json:"pickup"`
	Dropoff         types.Location `json:"dropoff"`
	VehicleClass    string         `json:"vehicle_class"`
	Fare            moneyResponse  `json:"fare"`
	DistanceMeters  int64          `json:"distance_meters"`
	DurationSeconds int64          `json:"duration_seconds"`
	Path            []types.Point  `json:"path,omitempty"`
	Status          trip.Status    `json:"status"`
	PaymentMethod   string         `json:"payment_method"`
	PaymentStatus   string         `json:"payment_status"`
	RatingDriver    *int           `json:"rating_driver,omitempty"`
	RatingTrip      *int           `json:"rating_trip,omitempty"`
	RatingComment   *string        `json:"rating_comment,omitempty"`
	CancelledBy     *types.ID      `json:"cancelled_by,omitempty"`
	CancelReason    *string        `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	AcceptedAt      *time.Time     `json:"accepted_at,omitempty"`
	PickedUpAt      *time.Time     `json:"picked_up_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	ExpiredAt       *time.Time     `json:"expired_at,omitempty"`
}

func toTripResponse(t *trip.Trip) tripResponse {
	return tripResponse{
		ID:              t.ID,
		RiderID:         t.RiderID,
		DriverID:        t.DriverID,
		Pickup:          t.Pickup,
		Dropoff:         t.Dropoff,
		VehicleClass:    t.VehicleClass,
		Fare:            toMoney(t.Fare),
		DistanceMeters:  t.DistanceMeters,
		DurationSeconds: t.DurationSeconds,
		Path:            t.Path,
		Status:          t.Status,
		PaymentMethod:   t.PaymentMethod,
		PaymentStatus:   string(t.PaymentStatus),
		RatingDriver:    t.RatingDriver,
		RatingTrip:      t.RatingTrip,
		RatingComment:   t.RatingComment,
		CancelledBy:     t.CancelledBy,
		CancelReason:    t.CancelReason,
		CreatedAt:       t.CreatedAt,
		AcceptedAt:      t.AcceptedAt,
		PickedUpAt:      t.PickedUpAt,
		CompletedAt:     t.CompletedAt,
		CancelledAt:     t.CancelledAt,
		ExpiredAt:       t.ExpiredAt,
	}
}

func toTripList(trips []*trip.Trip) []tripResponse {
	out := make([]tripResponse, 0, len(trips))
	for _, t := range trips {
		out = append(out, toTripResponse(t))
	}
	return out
}

type driverResponse struct {
	ID                types.ID        `json:"id"`
	Status            driver.Status   `json:"status"`
	Vehicle           *driver.Vehicle `json:"vehicle,omitempty"`
	CurrentLocation   *types.Point    `json:"current_location,omitempty"`
	LocationUpdatedAt *time.Time      `json:"location_updated_at,omitempty"`
	Rating            float64         `json:"rating"`
	RatingCount       int             `json:"rating_count"`
	TripCount         int             `json:"trip_count"`
}

func toDriverResponse(d *driver.Driver) driverResponse {
	return driverResponse{
		ID:                d.ID,
		Status:            d.Status,
		Vehicle:           d.Vehicle,
		CurrentLocation:   d.CurrentLocation,
		LocationUpdatedAt: d.LocationUpdatedAt,
		Rating:            d.Rating,
		RatingCount:       d.RatingCount,
		TripCount:         d.TripCount,
	}
}
