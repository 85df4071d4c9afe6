// Package config provides the configuration of a11yscan: command line
// defaults, the optional .a11yscan YAML file with per-host crawl settings
// and the storage section, environment variables and XDG data paths.
package config
