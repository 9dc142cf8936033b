// Package config handles application configuration loading and validation.
//
// Configuration is loaded from a YAML file and validated using struct
// tags. Every policy knob has a default, so an empty file is a valid
// configuration for local use.
package config
