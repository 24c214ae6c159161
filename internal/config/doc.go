// Package config provides centralized configuration management for the
// AgentWarden runtime. Configuration is loaded from a single JSON or YAML
// file and every section falls back to sensible defaults, so the daemon can
// start with an empty file for local development.
package config
