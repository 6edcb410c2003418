// Package config loads, normalizes, and validates talkreel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a .env secrets file, and honours
// environment overrides such as DEEPSEEK_API_KEY. The Config type centralizes
// every knob the daemon and CLI need so data directories, collaborator
// endpoints, and retention policy are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
