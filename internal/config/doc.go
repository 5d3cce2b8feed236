// Package config loads, defaults, and validates the bindery TOML
// configuration file.
package config
