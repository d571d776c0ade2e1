// Package config builds the immutable process configuration: ambient settings
// from flags, environment variables and an optional YAML file, and the route
// table from the positional command line arguments.
package config
