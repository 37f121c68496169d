// Package config loads, validates, and normalizes courier configuration.
//
// Configuration is read from a TOML file layered over built-in defaults.
// The default location is ~/.config/courier/config.toml with a fallback to
// courier.toml in the working directory.
package config
