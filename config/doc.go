// Package config implements the configuration file of the childproc command.
//
// A configuration file is YAML. It is validated against a JSON schema, merged
// over built-in defaults, and finally overridden by command line flags. The
// result describes a child process to launch and how to supervise it.
package config
