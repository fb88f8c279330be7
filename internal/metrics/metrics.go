// Package metrics exposes the process-wide counters and gauges tracked by
// the server, backed by github.com/VictoriaMetrics/metrics. It is the
// concrete home for the management surface the external spec calls out
// but does not otherwise define.
package metrics

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	sessionsLive        = metrics.NewCounter("tcproxy_sessions_started_total")
	sessionsEnded        = metrics.NewCounter("tcproxy_sessions_ended_total")
	remoteConnsAccepted = metrics.NewCounter("tcproxy_remote_connections_accepted_total")
	remoteConnsClosed   = metrics.NewCounter("tcproxy_remote_connections_closed_total")
	framesEncoded       = metrics.NewCounter("tcproxy_frames_encoded_total")
	framesDecoded       = metrics.NewCounter("tcproxy_frames_decoded_total")
	authFailures        = metrics.NewCounter("tcproxy_auth_failures_total")
	portsInUse          = metrics.NewGauge("tcproxy_ports_in_use", nil)
)

// SessionStarted records a newly accepted control connection.
func SessionStarted() { sessionsLive.Inc() }

// SessionEnded records a control connection's end, regardless of cause.
func SessionEnded() { sessionsEnded.Inc() }

// RemoteConnectionAccepted records a new public-port TCP connection.
func RemoteConnectionAccepted() { remoteConnsAccepted.Inc() }

// RemoteConnectionClosed records a public-port TCP connection's end.
func RemoteConnectionClosed() { remoteConnsClosed.Inc() }

// FrameEncoded records one frame written to a control connection.
func FrameEncoded() { framesEncoded.Inc() }

// FrameDecoded records one frame read from a control connection.
func FrameDecoded() { framesDecoded.Inc() }

// AuthFailure records one failed Authenticate attempt.
func AuthFailure() { authFailures.Inc() }

// SetPortsInUse reports the allocator's current reservation count.
func SetPortsInUse(n int) { portsInUse.Set(float64(n)) }

// WritePrometheus writes every registered metric in Prometheus text
// format, the same function the mgmt HTTP handler calls for /metrics.
func WritePrometheus(w interface {
	Write(p []byte) (int, error)
}) {
	metrics.WritePrometheus(w, true)
}
