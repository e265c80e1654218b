// Package observability builds the zap logger and owns the Prometheus
// metrics the gateway exports on /metrics.
package observability
