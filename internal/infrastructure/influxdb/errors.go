package influxdb

import "errors"

var (
	ErrDisabled         = errors.New("influxdb: disabled")
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps errors from the asynchronous write API.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
