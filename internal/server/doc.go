// Package server implements the HTTP API for monitoring and managing the
// transcription service. It exposes health, session, settings, configuration,
// statistics and Prometheus metrics endpoints.
package server
