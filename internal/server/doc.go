// Package server implements the HTTP surface of the file drop: batch upload,
// code redemption, groups, health and metrics, plus the scheduled sweeper.
// Handlers translate between JSON/multipart and the drop service and map
// drop errors to status codes in one place (errors.go).
package server
