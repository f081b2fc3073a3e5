//go:build unix

package pipe

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// createPipe uses os.Pipe, which creates both ends with O_CLOEXEC and
// registers them with the runtime poller. Inheritable ends get FD_CLOEXEC
// cleared so that they survive exec.
//
// os.StartProcess dup2s the files it is given into the child regardless of
// FD_CLOEXEC, so a pipe meant for os.StartProcess should keep both ends
// non-inheritable.
func createPipe(inheritRead, inheritWrite bool) (r, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, &OSError{Op: "pipe2", Err: unwrapSyscallError(err)}
	}
	if inheritRead {
		err = setInheritable(r)
	}
	if err == nil && inheritWrite {
		err = setInheritable(w)
	}
	if err != nil {
		r.Close()
		w.Close()
		return nil, nil, &OSError{Op: "fcntl", Err: err}
	}
	return r, w, nil
}

// setInheritable works on the raw descriptor through SyscallConn, since
// File.Fd would switch the file to blocking mode.
func setInheritable(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	err = rc.Control(func(fd uintptr) {
		_, ferr = unix.FcntlInt(fd, unix.F_SETFD, 0)
	})
	if err != nil {
		return err
	}
	return ferr
}

func readFile(f *os.File, buf []byte) (int, error) {
	n, err := f.Read(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, errInterrupted
	}
	return n, err
}

// Pipes carry no user space buffer, so written data is already visible to
// the reader. Flush only checks that the write end can still be written.
func flushFile(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return ErrClosed
	}
	var ferr error
	err = rc.Control(func(fd uintptr) {
		_, ferr = unix.FcntlInt(fd, unix.F_GETFL, 0)
	})
	if err != nil {
		return ErrClosed
	}
	if ferr != nil {
		return &OSError{Op: "fcntl", Err: ferr}
	}
	return nil
}

func unwrapSyscallError(err error) error {
	var se *os.SyscallError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

// interrupter cancels a blocked background read by moving the read deadline
// into the past.
type interrupter struct{}

func (interrupter) enter() error { return nil }

func (interrupter) leave() {}

func (interrupter) release() {}

func (interrupter) interrupt(p *Pipe, done <-chan struct{}) {
	f := p.read.Get()
	if f == nil {
		return
	}
	if err := f.SetReadDeadline(time.Now()); err != nil {
		// not pollable; closing is the only way to unblock the read
		p.log.WithError(err).Debug("Closing read end to stop background read")
		_ = p.read.Reset()
		return
	}
	<-done
	_ = f.SetReadDeadline(time.Time{})
}
