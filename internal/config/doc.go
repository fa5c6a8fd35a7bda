// Package config loads, normalizes, and validates arbiter configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads optional .env files, and honours
// environment fallbacks such as ARBITER_SMTP_PASSWORD. The Config type
// centralizes every knob the daemon, the upload gateway, and the CLI need so
// submission/truth directories and mail credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
