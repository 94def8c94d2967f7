// Package client executes authenticated HTTP requests against the
// downstream API. Every call follows a strict sequence: rate check, bearer
// authentication, send, then conditional retry (one re-authentication on
// the first 401, exponential backoff on 429 and network failures up to a
// fixed attempt ceiling). Each attempt passes through a circuit breaker and
// is recorded into the rate limiter so downstream throttling reflects real
// call outcomes.
package client
