// Package influxdb writes heating readings and daemon link statistics to
// InfluxDB v2.
//
// Each numeric reading becomes one point in the "heating" measurement,
// tagged by device_id, sensor and unit. Link counters go to the
// "vcontrold" measurement once per poll cycle.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("7571381573112225", "outside_temperature", "°C", 8.5, time.Time{})
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Failures
// surface through SetOnError wrapped in ErrWriteFailed. Connect and
// HealthCheck return errors directly.
package influxdb
