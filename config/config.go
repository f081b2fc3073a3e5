package config

import (
	"fmt"
	"os"
	"time"

	"github.com/taskcluster/childproc/process"
)

// Config describes a child process to launch and how to supervise it.
type Config struct {
	Application      string   `json:"application,omitempty" yaml:"application,omitempty"`
	Args             []string `json:"args,omitempty" yaml:"args,omitempty"`
	CommandLine      string   `json:"commandLine,omitempty" yaml:"commandLine,omitempty"`
	WorkingDirectory string   `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`
	Env              []string `json:"env,omitempty" yaml:"env,omitempty"`
	InheritEnv       bool     `json:"inheritEnv" yaml:"inheritEnv" default:"true"`
	RedirectStdin    bool     `json:"redirectStdin" yaml:"redirectStdin"`
	MergeStderr      bool     `json:"mergeStderr" yaml:"mergeStderr"`
	ReadBufferSize   int      `json:"readBufferSize" yaml:"readBufferSize" default:"4096"`
	KillAfter        string   `json:"killAfter,omitempty" yaml:"killAfter,omitempty"`
	KillCode         uint32   `json:"killCode" yaml:"killCode" default:"1"`
	StartRetries     uint64   `json:"startRetries" yaml:"startRetries"`
	MonitorInterval  string   `json:"monitorInterval,omitempty" yaml:"monitorInterval,omitempty"`
	LogFormat        string   `json:"logFormat" yaml:"logFormat" default:"text"`
}

// KillAfterDuration parses KillAfter; zero means never.
func (c *Config) KillAfterDuration() (time.Duration, error) {
	return parseDuration("killAfter", c.KillAfter)
}

// MonitorIntervalDuration parses MonitorInterval; zero means no monitoring.
func (c *Config) MonitorIntervalDuration() (time.Duration, error) {
	return parseDuration("monitorInterval", c.MonitorInterval)
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q for config key %s: %w", value, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid value %q for config key %s: negative duration", value, key)
	}
	return d, nil
}

// Environment returns the environment of the child: nil to inherit the
// environment of childproc unchanged.
func (c *Config) Environment() []string {
	switch {
	case !c.InheritEnv:
		return append([]string{}, c.Env...)
	case len(c.Env) == 0:
		return nil
	}
	return append(os.Environ(), c.Env...)
}

// Options converts the configuration into process options. Output handlers
// and logger are left to the caller.
func (c *Config) Options() *process.Options {
	o := process.NewOptions().
		WithApplication(c.Application).
		WithCommandLine(c.CommandLine).
		WithWorkingDirectory(c.WorkingDirectory).
		WithEnv(c.Environment()).
		WithReadBufferSize(c.ReadBufferSize)
	if len(c.Args) > 0 {
		o.WithArgs(c.Args...)
	}
	if c.RedirectStdin {
		o.RedirectStdinPipe()
	}
	if c.MergeStderr {
		o.RedirectStderrToStdout()
	}
	return o
}
