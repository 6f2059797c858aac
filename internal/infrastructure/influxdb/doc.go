// Package influxdb provides InfluxDB connectivity for controller telemetry.
//
// It wraps the official influxdb-client-go v2 library and turns each decoded
// controller state into a "reclaim_state" point. The device_id tag is fixed
// per client; each point adds its kind.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "home",
//	    Bucket:  "reclaim",
//	}, id.DeviceHex())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) {
//	    log.Printf("influx write failed: %v", err)
//	})
//	client.WriteState(state, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched; errors arrive through the SetOnError callback.
package influxdb
