package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/cloudctl/pkg/auth"
)

// StatusView wraps a session status so that it renders as a table and
// marshals as the plain status for json and yaml.
type StatusView struct {
	*auth.SessionStatus
	Now time.Time `json:"-" yaml:"-"`
}

func (v StatusView) WriteTable(w io.Writer) error {
	s := v.SessionStatus
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	if s == nil || (s.User == nil && s.ExpiresAt == nil) {
		_, _ = fmt.Fprintln(tw, "AUTHENTICATED:\tno")
		return tw.Flush()
	}
	_, _ = fmt.Fprintf(tw, "AUTHENTICATED:\t%s\n", yesNo(s.Authenticated))
	if s.User != nil {
		_, _ = fmt.Fprintf(tw, "USER:\t%s\n", dash(s.User.Name))
		_, _ = fmt.Fprintf(tw, "EMAIL:\t%s\n", dash(s.User.Email))
	}
	if s.ExpiresAt != nil {
		_, _ = fmt.Fprintf(tw, "EXPIRES:\t%s\n", formatTime(*s.ExpiresAt))
		_, _ = fmt.Fprintf(tw, "EXPIRES IN:\t%s\n", formatRemaining(*s.ExpiresAt, v.Now))
	}
	if s.LastRefreshedAt != nil {
		_, _ = fmt.Fprintf(tw, "LAST REFRESH:\t%s\n", formatTime(*s.LastRefreshedAt))
	}
	_, _ = fmt.Fprintf(tw, "REFRESH TOKEN:\t%s\n", yesNo(s.HasRefreshToken))
	_, _ = fmt.Fprintf(tw, "SCOPES:\t%s\n", dash(strings.Join(s.Scopes, " ")))
	return tw.Flush()
}

// MarshalYAML keeps the yaml output identical to the embedded status.
func (v StatusView) MarshalYAML() (any, error) {
	if v.SessionStatus == nil {
		return auth.SessionStatus{}, nil
	}
	return v.SessionStatus, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatRemaining(expiresAt, now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	remaining := expiresAt.Sub(now).Truncate(time.Second)
	if remaining <= 0 {
		return "expired"
	}
	return remaining.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
