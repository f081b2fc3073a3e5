package handle

import "fmt"

// OSError reports a failed operating system call, keeping the underlying
// error (typically a syscall.Errno) reachable through errors.Is / errors.As.
type OSError struct {
	Op  string
	Err error
}

func (e *OSError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OSError) Unwrap() error {
	return e.Err
}

// Wrap returns nil if err is nil, otherwise an *OSError describing op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OSError{Op: op, Err: err}
}
