// Package config loads, normalizes, and validates catalog pipeline settings.
//
// Values come from, in order of increasing precedence: repository defaults,
// an optional TOML file, an optional .env file, and MANGACATALOG_* environment
// variables. The Policy section holds the five refresh/query switches that
// steer reconciliation; every component receives the same Policy value.
package config
