// Package coordinator ties a controller session to local history and
// telemetry, and polls the controller on an adaptive cadence.
//
// Usage:
//
//	coord, err := coordinator.New(coordinator.Config{
//	    DeviceID:     id.DeviceHex(),
//	    Client:       session,
//	    History:      historyRepo,
//	    Telemetry:    influxClient,
//	    FastInterval: cfg.GetFastInterval(),
//	    SlowInterval: cfg.GetSlowInterval(),
//	    Logger:       log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := coord.Start(ctx); err != nil {
//	    return err
//	}
//	defer coord.Stop()
package coordinator
