// Package config loads fleetctx configuration from YAML with environment overrides and
// turns it into the shell endpoints, path policy and engine options.
package config
