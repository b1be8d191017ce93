package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthMetricsIncrement(t *testing.T) {
	AuthorizeAttempts.Reset()
	defer AuthorizeAttempts.Reset()

	AuthorizeAttempts.WithLabelValues(OutcomeSuccess).Inc()
	AuthorizeAttempts.WithLabelValues("USER_DENIED").Add(2)
	if v := testutil.ToFloat64(AuthorizeAttempts.WithLabelValues(OutcomeSuccess)); v != 1 {
		t.Fatalf("expected 1 successful attempt, got %v", v)
	}
	if v := testutil.ToFloat64(AuthorizeAttempts.WithLabelValues("USER_DENIED")); v != 2 {
		t.Fatalf("expected 2 denied attempts, got %v", v)
	}

	before := testutil.ToFloat64(SessionsDiscarded)
	SessionsDiscarded.Inc()
	if v := testutil.ToFloat64(SessionsDiscarded); v != before+1 {
		t.Fatalf("expected discarded sessions to grow by 1, got %v -> %v", before, v)
	}
}

func TestWriteTextfile(t *testing.T) {
	TokenRefreshes.WithLabelValues(OutcomeSuccess).Inc()
	CallbackPortsAttempted.Observe(3)

	path := filepath.Join(t.TempDir(), "cloudctl.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	for _, name := range []string{"cloudctl_auth_refresh_total", "cloudctl_auth_callback_ports_attempted"} {
		if !strings.Contains(string(content), name) {
			t.Fatalf("expected %s in textfile output:\n%s", name, content)
		}
	}
}
