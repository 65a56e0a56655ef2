// Package config loads, normalizes, and validates avsrt configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GOOGLE_TRANSLATE_API_KEY and OPENROUTER_API_KEY. Every tunable the workspace
// resolver, the stage runner, and the individual stages consume lives on
// Config; no stage reads the environment directly.
package config
