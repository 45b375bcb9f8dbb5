// Package config provides loading and environment overlay for the relay
// configuration. It exposes a Default() baseline, a TOML file loader, and a
// TAN_* env overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/server-tan.toml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
package config
