// Package security implements the building blocks of the form submission
// and outbound request hardening pipeline: input sanitization, sliding-window
// rate limiting with punitive blocking, CSRF token lifecycle management,
// credential encryption at rest, security audit logging, and hardening
// headers.
//
// Components in this package are independent leaves. They hold their own
// state behind mutexes, run their own housekeeping goroutines where needed,
// and expose Stats() accessors for monitoring. Composition into a single
// request-level validation pass happens in the root formgate package.
//
// # Design Principles
//
//   - Secure by default: zero-value options enable every protection.
//   - Explicit results, not panics: fallible checks return decision structs
//     with machine-readable reasons.
//   - No hidden globals: every component is constructed explicitly and
//     injected into its consumers.
//   - Bounded memory: all per-endpoint and per-session state is pruned by
//     periodic sweeps and hard retention horizons.
package security
