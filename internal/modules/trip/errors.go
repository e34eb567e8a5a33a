package trip

import "errors"

var (
	ErrValidation      = errors.New("validation error")
	ErrStateConflict   = errors.New("trip state conflict")
	ErrUnauthorized    = errors.New("caller is not a party to this trip")
	ErrVehicleMismatch = errors.New("driver vehicle class does not match trip")
	ErrNotFound        = errors.New("trip not found")
)
