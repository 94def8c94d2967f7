// Package instrumentation provides OpenTelemetry (OTEL) instrumentation
// for the formgate library.
//
// It covers the metrics the security pipeline and the outbound API client
// emit: form validation outcomes, rate limit denials, sanitization
// rejections, CSRF failures, token refreshes, and API request counts and
// latencies. Tracing helpers are included for callers that propagate spans
// through the pipeline.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "contact-form",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	pipeline.SetMetrics(inst.Metrics())
//
// When Enabled is false, New wires no-op providers and every Record method
// becomes free. All Record methods are also safe on a nil *Metrics, so
// components never need to guard their metric calls.
package instrumentation
