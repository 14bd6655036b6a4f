package heating

import "errors"

// Domain errors for the heating package.
var (
	// ErrUnknownHeatingType is returned for a heating type outside
	// generic, gas, heatpump and fuelcell.
	ErrUnknownHeatingType = errors.New("heating: unknown heating type")

	// ErrUnknownSensor is returned when a sensor key is not in the catalog.
	ErrUnknownSensor = errors.New("heating: unknown sensor")

	// ErrOutOfRange is returned for a set-point outside the allowed range.
	ErrOutOfRange = errors.New("heating: temperature out of range")

	// ErrInvalidMode is returned for an unsupported HVAC or operation mode.
	ErrInvalidMode = errors.New("heating: invalid mode")

	// ErrInvalidPreset is returned for an unsupported preset.
	ErrInvalidPreset = errors.New("heating: invalid preset")
)
