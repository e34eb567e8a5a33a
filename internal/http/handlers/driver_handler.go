// README: Driver handlers for vehicle registration, availability, location and nearby search.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/location"
	"ridecore/internal/types"
)

type DriverHandler struct {
	drivers  *driver.Service
	location *location.Service
}

func NewDriverHandler(drivers *driver.Service, loc *location.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, location: loc}
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func (h *DriverHandler) Me(c *gin.Context) {
	d, err := h.drivers.Get(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

type vehicleReq struct {
	Class string `json:"class" binding:"required"`
	Plate string `json:"plate" binding:"required"`
	Color string `json:"color"`
	Model string `json:"model"`
}

func (h *DriverHandler) RegisterVehicle(c *gin.Context) {
	var req vehicleReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.drivers.RegisterVehicle(c.Request.Context(), callerID(c), driver.Vehicle{
		Class: req.Class,
		Plate: req.Plate,
		Color: req.Color,
		Model: req.Model,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

func (h *DriverHandler) GoOnline(c *gin.Context) {
	d, err := h.drivers.GoOnline(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

func (h *DriverHandler) GoOffline(c *gin.Context) {
	d, err := h.drivers.GoOffline(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

type locationReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.location.UpdateDriverLocation(c.Request.Context(), callerID(c), types.Point{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

// Nearby takes lat, lng and an optional radius_km query.
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := 0.0
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = r
	}
	drivers, err := h.location.NearbyDrivers(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}
