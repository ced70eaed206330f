// Package config loads, normalizes, and validates genflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GENFLOW_LLM_API_KEY and REDIS_ADDR. The Config type centralizes every knob
// the daemon and CLI need so the engine limits, provider credentials, and
// persistence locations are discovered in one pass.
package config
