// Package config handles configuration loading for fleetd.
//
// # Overview
//
// Configuration is loaded from YAML with environment variable expansion
// and validated against sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FLEET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/fleet/fleetd.yaml
//  3. ~/.config/fleet/fleetd.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FLEET_JWT_SECRET}"
//
// Syntax: ${VAR_NAME} or $VAR_NAME
package config
