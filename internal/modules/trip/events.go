package trip

import "ridecore/internal/types"

// Push channel event names.
const (
	EventNewRideRequest = "new_ride_request"
	EventTripAccepted   = "trip_accepted"
	EventTripStarted    = "trip_started"
	EventTripNoDriver   = "trip_no_driver"
	EventTripCancelled  = "trip_cancelled"
	EventTripCompleted  = "trip_completed"
)

const noDriverMessage = "No driver accepted your request. Please try again."

type NewRideRequest struct {
	TripID       types.ID       `json:"tripId"`
	Pickup       types.Location `json:"pickupLocation"`
	Dropoff      types.Location `json:"dropoffLocation"`
	Fare         int64          `json:"fare"`
	Distance     int64          `json:"distance"`
	VehicleClass string         `json:"vehicleClass"`
}

type TripAccepted struct {
	TripID   types.ID `json:"tripId"`
	DriverID types.ID `json:"driverId"`
	Status   Status   `json:"status"`
}

type TripStarted struct {
	TripID types.ID `json:"tripId"`
	Status Status   `json:"status"`
}

type TripNoDriver struct {
	TripID  types.ID `json:"tripId"`
	Message string   `json:"message"`
}

type TripCancelled struct {
	TripID      types.ID `json:"tripId"`
	CancelledBy types.ID `json:"cancelledBy"`
	Reason      string   `json:"reason"`
}

type TripCompleted struct {
	TripID types.ID `json:"tripId"`
	Fare   int64    `json:"fare"`
	Status Status   `json:"status"`
}
