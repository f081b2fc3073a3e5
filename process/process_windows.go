package process

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/taskcluster/childproc/handle"
	"golang.org/x/sys/windows"
)

// stillActive is what GetExitCodeProcess reports for a process which has not
// exited (STILL_ACTIVE).
const stillActive = 259

type native struct {
	process *handle.Handle[windows.Handle]
	thread  *handle.Handle[windows.Handle]
	// waiter is a duplicate of the process handle owned by waitNative, so
	// that CloseHandles can run while waitNative is blocked
	waiter        windows.Handle
	killRequested atomic.Bool
}

func (n *native) init() {
	n.process = handle.Invalid[windows.Handle]()
	n.thread = handle.Invalid[windows.Handle]()
}

// NativeHandle returns the process handle of the child, or 0 if it was not
// started or its handles were closed.
func (p *Process) NativeHandle() windows.Handle {
	if !p.isStarted() {
		return 0
	}
	return p.native.process.Get()
}

// ThreadHandle returns the handle of the child's primary thread, or 0 if it
// was not started or its handles were closed.
func (p *Process) ThreadHandle() windows.Handle {
	if !p.isStarted() {
		return 0
	}
	return p.native.thread.Get()
}

func (p *Process) startNative(application, commandLine string, args []string, stdio [3]*os.File) error {
	if len(args) > 0 {
		commandLine = windows.ComposeCommandLine(args)
	}
	var appp, cmdp, dirp, envp *uint16
	var err error
	if application != "" {
		if appp, err = windows.UTF16PtrFromString(application); err != nil {
			return &OSError{Op: "CreateProcess", Err: err}
		}
	}
	// CreateProcessW may write to the command line buffer; UTF16PtrFromString
	// always returns a fresh one
	if commandLine != "" {
		if cmdp, err = windows.UTF16PtrFromString(commandLine); err != nil {
			return &OSError{Op: "CreateProcess", Err: err}
		}
	}
	if p.opts.WorkingDirectory != "" {
		if dirp, err = windows.UTF16PtrFromString(p.opts.WorkingDirectory); err != nil {
			return &OSError{Op: "CreateProcess", Err: err}
		}
	}
	flags := p.opts.CreationFlags
	if p.opts.Env != nil {
		if envp, err = createEnvBlock(p.opts.Env); err != nil {
			return &OSError{Op: "CreateProcess", Err: err}
		}
		flags |= windows.CREATE_UNICODE_ENVIRONMENT
	}

	si := new(windows.StartupInfo)
	si.Cb = uint32(unsafe.Sizeof(*si))

	// no other goroutine may create inheritable handles while ours exist,
	// otherwise they would leak into this child
	syscall.ForkLock.Lock()
	defer syscall.ForkLock.Unlock()

	if stdio[0] != nil || stdio[1] != nil || stdio[2] != nil {
		std, err := inheritableStdHandles(stdio)
		defer func() {
			for _, h := range std {
				if h != 0 {
					windows.CloseHandle(h)
				}
			}
		}()
		if err != nil {
			return err
		}
		si.Flags |= windows.STARTF_USESTDHANDLES
		si.StdInput = std[0]
		si.StdOutput = std[1]
		si.StdErr = std[2]
	}

	pi := new(windows.ProcessInformation)
	err = windows.CreateProcess(appp, cmdp, nil, nil, p.opts.InheritHandlesEffective(), flags, envp, dirp, si, pi)
	if err != nil {
		return &OSError{Op: "CreateProcess", Err: err}
	}
	self := windows.CurrentProcess()
	if err := windows.DuplicateHandle(self, pi.Process, self, &p.native.waiter, 0, false, windows.DUPLICATE_SAME_ACCESS); err != nil {
		windows.TerminateProcess(pi.Process, 1)
		windows.CloseHandle(pi.Thread)
		windows.CloseHandle(pi.Process)
		return &OSError{Op: "DuplicateHandle", Err: err}
	}
	p.native.process = handle.New(pi.Process, windows.CloseHandle)
	p.native.thread = handle.New(pi.Thread, windows.CloseHandle)
	p.pid = int(pi.ProcessId)
	return nil
}

var stdHandleIDs = [3]uint32{windows.STD_INPUT_HANDLE, windows.STD_OUTPUT_HANDLE, windows.STD_ERROR_HANDLE}

// inheritableStdHandles returns inheritable duplicates of the given files, or
// of the parent's own standard handles for the streams which are not
// redirected. The caller closes them once the child has been created.
func inheritableStdHandles(stdio [3]*os.File) ([3]windows.Handle, error) {
	var std [3]windows.Handle
	self := windows.CurrentProcess()
	for i, f := range stdio {
		var src windows.Handle
		if f != nil {
			src = windows.Handle(f.Fd())
		} else {
			src, _ = windows.GetStdHandle(stdHandleIDs[i])
		}
		if src == 0 || src == windows.InvalidHandle {
			continue
		}
		if err := windows.DuplicateHandle(self, src, self, &std[i], 0, true, windows.DUPLICATE_SAME_ACCESS); err != nil {
			return std, &OSError{Op: "DuplicateHandle", Err: err}
		}
	}
	return std, nil
}

// createEnvBlock converts env into the double NUL terminated block expected
// by CreateProcess.
func createEnvBlock(env []string) (*uint16, error) {
	var block []uint16
	for _, kv := range env {
		if strings.IndexByte(kv, 0) >= 0 {
			return nil, windows.ERROR_INVALID_PARAMETER
		}
		block = append(block, utf16.Encode([]rune(kv))...)
		block = append(block, 0)
	}
	if len(block) == 0 {
		block = append(block, 0)
	}
	block = append(block, 0)
	return &block[0], nil
}

func (p *Process) waitNative() exitInfo {
	h := p.native.waiter
	defer windows.CloseHandle(h)

	exit := exitInfo{}
	event, err := windows.WaitForSingleObject(h, windows.INFINITE)
	exit.finishedAt = time.Now()
	switch {
	case err != nil:
		exit.err = &OSError{Op: "WaitForSingleObject", Err: err}
		return exit
	case event != windows.WAIT_OBJECT_0:
		exit.err = &OSError{Op: "WaitForSingleObject", Err: fmt.Errorf("unexpected result %#x", event)}
		return exit
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		exit.err = &OSError{Op: "GetExitCodeProcess", Err: err}
		return exit
	}
	exit.code = code
	exit.killed = p.native.killRequested.Load()

	var creation, exited, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(h, &creation, &exited, &kernel, &user); err == nil {
		exit.userTime = filetimeDuration(user)
		exit.kernelTime = filetimeDuration(kernel)
	}
	return exit
}

// filetimeDuration converts a FILETIME interval, counted in 100ns units.
func filetimeDuration(ft windows.Filetime) time.Duration {
	return time.Duration((uint64(ft.HighDateTime)<<32 | uint64(ft.LowDateTime)) * 100)
}

func (p *Process) kill(code uint32) bool {
	h := p.native.process.Get()
	if h == 0 || p.hasExited() {
		return false
	}
	var current uint32
	if err := windows.GetExitCodeProcess(h, &current); err == nil && current != stillActive {
		return false
	}
	p.native.killRequested.Store(true)
	if err := windows.TerminateProcess(h, code); err != nil {
		p.native.killRequested.Store(false)
		p.log.WithError(err).Warn("Could not kill child")
		return false
	}
	p.log.WithField("exitCode", code).Info("Killed child")
	return true
}

func (p *Process) closeNativeHandles() error {
	return errors.Join(p.native.process.Reset(), p.native.thread.Reset())
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_NO_DATA)
}
