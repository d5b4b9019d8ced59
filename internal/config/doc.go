// Package config loads the service configuration from YAML, fills omitted
// fields from Default, and validates every section.
package config
