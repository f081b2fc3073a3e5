package pipe

import (
	"fmt"

	"github.com/taskcluster/childproc/handle"
)

// OSError is returned when an underlying system call fails.
type OSError = handle.OSError

var (

	// ErrClosed is returned when reading from or writing to a pipe end which
	// has already been closed
	ErrClosed = fmt.Errorf("pipe: end is closed")

	// ErrAlreadyRunning is returned by BeginRead while a background read is
	// active on the pipe
	ErrAlreadyRunning = fmt.Errorf("pipe: background read already running")

	// ErrNoHandler is returned by BeginRead when no handler is given
	ErrNoHandler = fmt.Errorf("pipe: no handler for background read")

	// ErrBackgroundRead is returned by synchronous reads while the read end is
	// owned by a background reader
	ErrBackgroundRead = fmt.Errorf("pipe: read end is owned by a background reader")

	// errInterrupted is returned by readFile when a blocked read was cancelled
	// by EndRead
	errInterrupted = fmt.Errorf("pipe: read interrupted")
)
