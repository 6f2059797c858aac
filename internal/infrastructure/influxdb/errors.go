package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrDeviceRequired is returned by Connect without a device tag.
	ErrDeviceRequired = errors.New("influxdb: device id is required")

	// ErrConnectionFailed wraps a failed or unhealthy initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
