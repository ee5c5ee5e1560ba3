// Package influxdb records Flyport line changes as InfluxDB time series.
//
// Every change event becomes one point in the flyport_line measurement,
// tagged by board, alias, line and kind, with a boolean is_on field. Writes
// are non-blocking and batched by influxdb-client-go; asynchronous write
// errors are delivered to the callback set with SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteLineChange(sample)
package influxdb
