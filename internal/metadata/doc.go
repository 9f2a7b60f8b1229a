// Package metadata persists file records and groups.
//
// Postgres is the default backend; MongoDB is supported for deployments that
// already run it. Memory is a process-local store for development and tests.
// All three implement Store, and GroupCache can front any of them.
package metadata
