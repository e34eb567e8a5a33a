package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/trip"
)

func TestWriteServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: pickup", trip.ErrValidation), http.StatusBadRequest},
		{driver.ErrInvalidVehicle, http.StatusBadRequest},
		{driver.ErrNoVehicle, http.StatusBadRequest},
		{location.ErrInvalidPoint, http.StatusBadRequest},
		{trip.ErrUnauthorized, http.StatusForbidden},
		{trip.ErrNotFound, http.StatusNotFound},
		{driver.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: trip is COMPLETED", trip.ErrStateConflict), http.StatusConflict},
		{trip.ErrVehicleMismatch, http.StatusConflict},
		{driver.ErrWorking, http.StatusConflict},
		{driver.ErrConflict, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeServiceError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}

func TestWriteServiceError_HidesInternalText(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeServiceError(c, errors.New("pq: password authentication failed"))
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}
