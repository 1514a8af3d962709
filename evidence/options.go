package evidence

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/coordinator"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
)

// DefaultVerifyConcurrency bounds VerifyAll when no option is given
const DefaultVerifyConcurrency = 8

// Option configures a Service
type Option func(*Service)

// WithAuditLogger records tamper and verification runs
func WithAuditLogger(l interfaces.AuditLogger) Option {
	return func(s *Service) { s.auditLogger = l }
}

// WithLogger sets the operational logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		if l.GetLevel() != zerolog.Disabled {
			s.logger = l
		}
	}
}

// WithVerifyConcurrency bounds how many records VerifyAll checks at once
func WithVerifyConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.verifyConcurrency = n
		}
	}
}

// WithCoordinator tracks VerifyAll runs
func WithCoordinator(c *coordinator.Coordinator) Option {
	return func(s *Service) { s.coordinator = c }
}

// WithTracerProvider sets where spans are recorded; the global provider is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}
