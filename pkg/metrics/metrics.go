package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds only cloudctl metrics so a textfile export stays small.
var Registry = prometheus.NewRegistry()

var (
	AuthorizeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudctl_auth_authorize_total",
		Help: "Total number of browser login attempts by outcome",
	}, []string{"outcome"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudctl_auth_refresh_total",
		Help: "Total number of token refresh attempts by outcome",
	}, []string{"outcome"})
	// Ports tried before the callback listener could bind
	CallbackPortsAttempted = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloudctl_auth_callback_ports_attempted",
		Help:    "Number of loopback ports tried per callback listener start",
		Buckets: []float64{1, 2, 4, 8, 16, 64, 256},
	})
	SessionsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudctl_auth_sessions_discarded_total",
		Help: "Total number of corrupted keychain sessions deleted on load",
	})
)

const OutcomeSuccess = "success"

func init() {
	Registry.MustRegister(AuthorizeAttempts)
	Registry.MustRegister(TokenRefreshes)
	Registry.MustRegister(CallbackPortsAttempted)
	Registry.MustRegister(SessionsDiscarded)
}

// WriteTextfile writes all cloudctl metrics in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
