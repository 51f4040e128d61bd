// Package config provides configuration loading for cycled.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. The same file carries both the runtime settings and the agent
// roster consumed at launch.
package config
