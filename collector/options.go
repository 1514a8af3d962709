package collector

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
)

// Option configures a Collector
type Option func(*Collector)

// WithCollectorID sets the identity bound into each record's authentication tag
func WithCollectorID(id string) Option {
	return func(c *Collector) { c.collectorID = id }
}

// WithHashChain links each record to the previous record's event hash
func WithHashChain(enabled bool) Option {
	return func(c *Collector) { c.hashChain = enabled }
}

// WithAuditLogger records every collect attempt
func WithAuditLogger(l interfaces.AuditLogger) Option {
	return func(c *Collector) { c.auditLogger = l }
}

// WithLogger sets the operational logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) {
		if l.GetLevel() != zerolog.Disabled {
			c.logger = l
		}
	}
}

// WithClock overrides collector_ts
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTracerProvider sets where spans are recorded
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Collector) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}
