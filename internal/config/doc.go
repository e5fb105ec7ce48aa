// Package config loads, normalizes, and validates kloak configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the KLOAK_FFMPEG environment
// override. The strip engine itself never reads configuration; only the CLI
// does, and it passes plain values down.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
