// Package influxdb writes MQTT session telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every coordinator
// event can be written as a point in the mqtt_events measurement, tagged
// by event kind and topic, so connection churn and message rates can be
// charted next to the broker's own metrics.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteSessionEvent(influxdb.SessionEvent{Kind: "connected", Session: 1})
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval); batch
// failures arrive through SetOnError wrapped in ErrWriteFailed. Connection
// and health check errors are returned directly.
package influxdb
