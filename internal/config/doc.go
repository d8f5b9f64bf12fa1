// Package config loads, normalizes, and validates gifswap's TOML
// configuration.
//
// Load resolves the file (explicit path, ~/.config/gifswap/config.toml, or a
// project-local gifswap.toml), applies defaults for anything unset, expands ~
// in path fields, and rejects unusable values. Callers receive a fully
// normalized Config; no other package re-checks ranges at runtime.
package config
