package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// LineMeasurement is the measurement name for line change points.
const LineMeasurement = "flyport_line"

// LineSample is one observed line transition.
type LineSample struct {
	Board string // host:port
	Alias string
	Line  int
	Kind  string
	IsOn  bool
	Time  time.Time
}

// linePoint converts a sample into its InfluxDB point.
func linePoint(s LineSample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{
		"board": s.Board,
		"line":  strconv.Itoa(s.Line),
		"kind":  s.Kind,
	}
	if s.Alias != "" {
		tags["alias"] = s.Alias
	}
	return write.NewPoint(LineMeasurement, tags, map[string]interface{}{"is_on": s.IsOn}, ts)
}

// WriteLineChange queues a line change point. Non-blocking; dropped
// silently when the client is not connected.
func (c *Client) WriteLineChange(s LineSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linePoint(s))
}

// WritePoint queues a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
