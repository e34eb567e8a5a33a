// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridecore/internal/http/handlers"
	"ridecore/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier)
	driverOnly := middleware.RequireRole(middleware.RoleDriver)

	ws := handlers.NewWSHandler(deps.Hub)
	r.GET("/ws", auth, ws.Serve)

	api := r.Group("/api", auth)

	tripHandler := handlers.NewTripHandler(deps.Trips)
	trips := api.Group("/trips")
	trips.POST("/estimate", tripHandler.Estimate)
	trips.POST("", tripHandler.Request)
	trips.GET("/current", tripHandler.Current)
	trips.GET("/history", tripHandler.History)
	trips.POST("/cancel", tripHandler.Cancel)
	trips.GET("/available", driverOnly, tripHandler.Available)
	trips.POST("/:id/accept", driverOnly, tripHandler.Accept)
	trips.POST("/:id/pickup", driverOnly, tripHandler.Pickup)
	trips.POST("/:id/complete", driverOnly, tripHandler.Complete)
	trips.POST("/:id/rate", tripHandler.Rate)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Location)
	drivers := api.Group("/drivers")
	drivers.GET("/nearby", driverHandler.Nearby)
	me := drivers.Group("/me", driverOnly)
	me.GET("", driverHandler.Me)
	me.PUT("/vehicle", driverHandler.RegisterVehicle)
	me.POST("/online", driverHandler.GoOnline)
	me.POST("/offline", driverHandler.GoOffline)
	me.PUT("/location", driverHandler.UpdateLocation)

	leaderboard := handlers.NewLeaderboardHandler(deps.Ranking)
	api.GET("/leaderboard", leaderboard.Top)

	return r
}
