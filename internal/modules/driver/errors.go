package driver

import "errors"

var (
	ErrNotFound       = errors.New("driver not found")
	ErrNoVehicle      = errors.New("driver has no registered vehicle")
	ErrInvalidVehicle = errors.New("invalid vehicle")
	ErrWorking        = errors.New("driver is on a trip")
	ErrConflict       = errors.New("driver record changed concurrently")
	ErrExists         = errors.New("driver already exists")
)
