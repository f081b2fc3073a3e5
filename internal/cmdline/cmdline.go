// Package cmdline converts between command lines and argument vectors using
// POSIX shell quoting rules.
package cmdline

import (
	"fmt"

	"github.com/google/shlex"
	"github.com/taskcluster/shell"
)

// Split splits commandLine into words, honouring single quotes, double
// quotes and backslash escapes.
func Split(commandLine string) ([]string, error) {
	args, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("cannot split command line %q: %w", commandLine, err)
	}
	return args, nil
}

// Join quotes args so that Split returns them unchanged.
func Join(args ...string) string {
	return shell.Escape(args...)
}
