package process

import (
	"fmt"

	"github.com/taskcluster/childproc/handle"
	"github.com/taskcluster/childproc/pipe"
)

// OSError is returned when launching or controlling the child fails in the
// operating system.
type OSError = handle.OSError

var (

	// ErrAlreadyStarted is returned by Start if the Process was started before
	ErrAlreadyStarted = fmt.Errorf("process: already started")

	// ErrStartFailed is returned by Start after an earlier Start failed; a
	// Process cannot be started again, create a new one instead
	ErrStartFailed = fmt.Errorf("process: an earlier start failed")

	// ErrNotStarted is returned by operations which need a running child
	ErrNotStarted = fmt.Errorf("process: not started")

	// ErrNotRedirected is returned when accessing a standard stream which was
	// not redirected to a pipe
	ErrNotRedirected = fmt.Errorf("process: stream not redirected")

	// ErrNoCommand is returned by Start when neither an application, a
	// command line nor arguments were given
	ErrNoCommand = fmt.Errorf("process: nothing to run")

	// ErrStdinInputConfigured is returned by Communicate when it is given input
	// for a child whose options already carry StdinInput
	ErrStdinInputConfigured = fmt.Errorf("process: stdin input already configured")

	// ErrNoHandler is returned by BeginReadStdout and BeginReadStderr when
	// neither an explicit nor a configured handler is available
	ErrNoHandler = pipe.ErrNoHandler
)
