// Package memory provides an in-memory implementation of the ephemeral
// session store. It is suitable for development, testing, and
// single-instance deployments.
package memory
