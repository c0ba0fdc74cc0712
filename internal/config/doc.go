// Package config loads, normalizes, and validates atticqueue configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads optional .env files, and honours
// environment overrides such as QUEUE_PATH and DATABASE_PATH so the daemon
// can be deployed from a service unit without a config file. The Config type
// centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
