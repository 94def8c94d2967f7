// Package storage defines the interface for the session-scoped ephemeral
// key/value store used to mirror CSRF tokens, session identifiers, and
// sealed credentials across page reloads. It supports swappable backend
// implementations; the in-memory backend lives in storage/memory.
package storage
