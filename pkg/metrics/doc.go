// Package metrics defines Prometheus counters for the cloudctl login flow:
// authorize and refresh outcomes, callback port attempts, and discarded sessions.
package metrics
