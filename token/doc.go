// Package token acquires and caches short-lived OAuth2 client-credentials
// access tokens against an identity provider, deduplicating concurrent
// refreshes so any number of simultaneous callers collapse into a single
// network exchange.
//
// The Manager fails fast: network failures and malformed provider responses
// are never retried here. Retry with backoff belongs to the resilient API
// client that consumes the manager.
package token
