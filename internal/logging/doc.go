// Package logging builds the slog loggers used across courier and holds
// the shared attribute helpers and standardized field names.
package logging
