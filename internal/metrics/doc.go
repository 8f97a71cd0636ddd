// Package metrics exposes Prometheus counters for the hub, sessions,
// notifications and message writes. One *Metrics is wired into every
// component's observer hook at startup and served from the configured
// metrics path.
package metrics
