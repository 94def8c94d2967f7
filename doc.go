// Package formgate provides the secure, resilient outbound API access
// layer behind a contact/appointment form: OAuth2 client-credentials token
// caching with refresh deduplication, authenticated HTTP calls with
// retry/backoff and on-demand reauthentication, and a composed security
// pipeline gating every form submission through CSRF token validation,
// sliding-window rate limiting with punitive blocking, and input
// sanitization.
//
// # Architecture
//
// Leaf components live in subpackages and are composed here:
//
//   - security: sanitization, rate limiting, CSRF tokens, credential vault
//   - storage: session-scoped ephemeral mirror for tokens and credentials
//   - token: OAuth2 client-credentials token manager
//   - client: resilient authenticated API client
//   - instrumentation: OpenTelemetry metrics and tracing
//
// The Pipeline in this package is the entry point UI collaborators call
// before dispatching a business action:
//
//	pipeline, err := formgate.New(cfg)
//	if err != nil { ... }
//	defer pipeline.Close()
//
//	result := pipeline.ValidateFormSubmission(ctx, form, "contact-form", formgate.Options{})
//	if !result.Valid {
//		// surface result.Errors to the user, log result.Warnings
//	}
//
// Integration collaborators (calendar/email clients) use client.ResilientClient
// for outbound calls and never talk to the token manager or rate limiter
// directly.
package formgate
