//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/taskcluster/childproc/handle"
	"github.com/taskcluster/childproc/internal/cmdline"
)

type native struct {
	proc *handle.Handle[*os.Process]
	// reaper is the same os.Process, kept for waitNative after proc has
	// been given up
	reaper *os.Process
	// killCode is the exit code requested by Kill, or -1
	killCode atomic.Int64
}

func (n *native) init() {
	n.proc = handle.Invalid[*os.Process]()
	n.killCode.Store(-1)
}

// NativeHandle returns the operating system's view of the child, or nil if
// it was not started or its handles were closed.
func (p *Process) NativeHandle() *os.Process {
	if !p.isStarted() {
		return nil
	}
	return p.native.proc.Get()
}

// buildArgv builds the argument vector: args if given, otherwise the command line
// split like a POSIX shell would, otherwise just the application.
func buildArgv(application, commandLine string, args []string) ([]string, error) {
	switch {
	case len(args) > 0:
		return args, nil
	case commandLine != "":
		return cmdline.Split(commandLine)
	}
	return []string{application}, nil
}

// executable resolves the program to run. Names without a slash are looked
// up in PATH; relative paths are taken relative to the parent's working
// directory, not the child's.
func executable(name string) (string, error) {
	if !strings.Contains(name, "/") {
		return exec.LookPath(name)
	}
	return filepath.Abs(name)
}

func sysProcAttr(flags uint32) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{}
	switch {
	case flags&DetachedProcess != 0:
		// a new session is also a new process group
		attr.Setsid = true
	case flags&CreateNewProcessGroup != 0:
		attr.Setpgid = true
	}
	return attr
}

func (p *Process) startNative(application, commandLine string, args []string, stdio [3]*os.File) error {
	argv, err := buildArgv(application, commandLine, args)
	if err != nil {
		return err
	}
	if len(argv) == 0 {
		return ErrNoCommand
	}
	name := application
	if name == "" {
		name = argv[0]
	}
	path, err := executable(name)
	if err != nil {
		return &OSError{Op: "lookup " + name, Err: unwrapExecError(err)}
	}

	files := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	for i, f := range stdio {
		if f != nil {
			files[i] = f
		}
	}
	proc, err := os.StartProcess(path, argv, &os.ProcAttr{
		Dir:   p.opts.WorkingDirectory,
		Env:   p.opts.Env,
		Files: files,
		Sys:   sysProcAttr(p.opts.CreationFlags),
	})
	if err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			return &OSError{Op: pe.Op + " " + pe.Path, Err: pe.Err}
		}
		return &OSError{Op: "fork/exec " + path, Err: err}
	}
	p.native.proc = handle.New(proc, (*os.Process).Release)
	p.native.reaper = proc
	p.pid = proc.Pid
	return nil
}

// waitNative reaps the child.
func (p *Process) waitNative() exitInfo {
	state, err := p.native.reaper.Wait()
	exit := exitInfo{finishedAt: time.Now()}
	if err != nil {
		exit.err = &OSError{Op: "wait", Err: err}
		return exit
	}
	exit.userTime = state.UserTime()
	exit.kernelTime = state.SystemTime()
	exit.code, exit.killed = exitCode(state, p.native.killCode.Load())
	return exit
}

// exitCode maps a wait status to an exit code: the status of a normal exit,
// the requested code if the child was killed by Kill, and 128 plus the
// signal number for any other signal.
func exitCode(state *os.ProcessState, killCode int64) (uint32, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return uint32(max(state.ExitCode(), 0)), false
	}
	switch {
	case ws.Exited():
		return uint32(ws.ExitStatus()), false
	case ws.Signaled() && ws.Signal() == syscall.SIGKILL && killCode >= 0:
		return uint32(killCode), true
	case ws.Signaled():
		return 128 + uint32(ws.Signal()), false
	}
	return uint32(max(state.ExitCode(), 0)), false
}

func (p *Process) kill(code uint32) bool {
	proc := p.native.proc.Get()
	if proc == nil || p.hasExited() {
		return false
	}
	p.native.killCode.Store(int64(code))
	if err := proc.Kill(); err != nil {
		p.native.killCode.Store(-1)
		p.log.WithError(err).Warn("Could not kill child")
		return false
	}
	p.log.WithField("exitCode", code).Info("Killed child")
	return true
}

// closeNativeHandles gives up ownership of the os.Process without releasing
// it, since the reaper still needs it; Wait releases it once the child has
// been reaped.
func (p *Process) closeNativeHandles() error {
	p.native.proc.Release()
	return nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}

func unwrapExecError(err error) error {
	var ee *exec.Error
	if errors.As(err, &ee) {
		return ee.Err
	}
	return err
}
