// Package config loads the backport configuration from a YAML file with
// BACKPORT_* environment overrides, validates it, and converts it into the
// options of the individual components.
package config
