// Package logging provides structured logging for Fleetcore.
//
// It wraps the standard library's log/slog with configuration-driven
// format and level selection, and stamps every record with the service
// name and build version.
//
// Components that only need a subset of log levels define their own
// narrow Logger interface (see telemetry.Logger, mqtt.Logger) which
// *logging.Logger satisfies.
package logging
