// Package process launches a child process, optionally connecting its
// standard streams to pipes, and tracks it until it exits.
//
// A Process moves from StateCreated to StateRunning when Start succeeds and
// to StateExited once the operating system reports that the child has
// terminated. A Process can be started at most once.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	nullLog "github.com/sirupsen/logrus/hooks/test"
	"github.com/taskcluster/childproc/internal/cmdline"
	"github.com/taskcluster/childproc/pipe"
	"github.com/taskcluster/slugid-go/slugid"
)

// DrainTimeout is how long Wait lets background readers deliver the
// remaining output once the child has exited.
var DrainTimeout = 2 * time.Second

type State int

const (
	StateCreated State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Process is a child process and the parent's side of its redirected
// standard streams.
type Process struct {
	opts     *Options
	log      logrus.FieldLogger
	launchID string

	// mu guards the start sequence and the fields it sets
	mu      sync.Mutex
	started bool
	failed  bool
	stdin   *pipe.Pipe
	stdout  *pipe.Pipe
	stderr  *pipe.Pipe

	pid           int
	startedAt     time.Time
	native        native
	handlesClosed atomic.Bool

	// done is closed by the waiter goroutine once exit is set
	done chan struct{}
	exit exitInfo

	monitor *monitor
}

// exitInfo is what the waiter goroutine learns about a terminated child.
type exitInfo struct {
	code       uint32
	killed     bool
	userTime   time.Duration
	kernelTime time.Duration
	finishedAt time.Time
	err        error
}

// New returns a Process which will be launched according to opts. The options
// are copied; a nil opts means NewOptions().
func New(opts *Options) *Process {
	if opts == nil {
		opts = NewOptions()
	} else {
		opts = opts.Clone()
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = pipe.DefaultReadSize
	}
	logger := opts.Logger
	if logger == nil {
		nl, _ := nullLog.NewNullLogger()
		logger = nl
	}
	id := slugid.Nice()
	p := &Process{
		opts:     opts,
		launchID: id,
		log:      logger.WithField("launchId", id),
		done:     make(chan struct{}),
	}
	p.native.init()
	return p
}

// Launch creates and starts a Process running commandLine.
func Launch(commandLine string, opts *Options) (*Process, error) {
	return LaunchApplication("", commandLine, opts)
}

// LaunchApplication creates and starts a Process running application with
// the given command line.
func LaunchApplication(application, commandLine string, opts *Options) (*Process, error) {
	p := New(opts)
	if err := p.StartApplication(application, commandLine); err != nil {
		return nil, err
	}
	return p, nil
}

// LaunchID is a unique identifier of this Process, used to correlate log
// entries.
func (p *Process) LaunchID() string {
	return p.launchID
}

// Options returns a copy of the options the Process was created with.
func (p *Process) Options() *Options {
	return p.opts.Clone()
}

// Start launches the child described by the options.
func (p *Process) Start() error {
	return p.start(p.opts.Application, p.opts.CommandLine, p.opts.Args)
}

// StartApplication launches application with the given command line,
// overriding the options.
func (p *Process) StartApplication(application, commandLine string) error {
	return p.start(application, commandLine, nil)
}

func (p *Process) start(application, commandLine string, args []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.started:
		return ErrAlreadyStarted
	case p.failed:
		return ErrStartFailed
	case application == "" && commandLine == "" && len(args) == 0:
		return ErrNoCommand
	}

	if err := p.launch(application, commandLine, args); err != nil {
		p.failed = true
		p.closePipes()
		p.log.WithError(err).WithField("application", application).Error("Could not launch child")
		return err
	}
	p.started = true
	p.log = p.log.WithField("pid", p.pid)
	if len(args) > 0 {
		commandLine = cmdline.Join(args...)
	}
	p.log.WithFields(logrus.Fields{
		"application": application,
		"commandLine": commandLine,
	}).Info("Launched child")
	go func() {
		p.finish(p.waitNative())
	}()

	if p.opts.StdinInput != nil && p.stdin != nil {
		go p.feedStdin(p.stdin, p.opts.StdinInput)
	}
	return nil
}

func (p *Process) launch(application, commandLine string, args []string) error {
	if err := p.createPipes(); err != nil {
		return err
	}
	var stdio [3]*os.File
	if p.stdin != nil {
		stdio[0] = p.stdin.ReadEnd().Get()
	}
	if p.stdout != nil {
		stdio[1] = p.stdout.WriteEnd().Get()
		if p.opts.mergesStderr() {
			stdio[2] = stdio[1]
		}
	}
	if p.stderr != nil {
		stdio[2] = p.stderr.WriteEnd().Get()
	}

	p.startedAt = time.Now()
	if err := p.startNative(application, commandLine, args, stdio); err != nil {
		return err
	}

	// the child has its own copies now; ours would keep the pipes from
	// reporting end of file
	var errs []error
	if p.stdin != nil {
		errs = append(errs, p.stdin.ReadEnd().Reset())
	}
	if p.stdout != nil {
		errs = append(errs, p.stdout.WriteEnd().Reset())
	}
	if p.stderr != nil {
		errs = append(errs, p.stderr.WriteEnd().Reset())
	}
	if err := errors.Join(errs...); err != nil {
		p.log.WithError(err).Warn("Could not close child ends of pipes")
	}
	return nil
}

func (p *Process) createPipes() error {
	create := func(stream string) (*pipe.Pipe, error) {
		return pipe.Create(
			pipe.InheritableRead(false),
			pipe.InheritableWrite(false),
			pipe.WithBufferSize(p.opts.ReadBufferSize),
			pipe.WithLogger(p.log.WithField("stream", stream)),
		)
	}
	var err error
	if p.opts.RedirectStdin {
		if p.stdin, err = create("stdin"); err != nil {
			return err
		}
	}
	if p.opts.RedirectStdout {
		if p.stdout, err = create("stdout"); err != nil {
			return err
		}
	}
	if p.opts.RedirectStderr && !p.opts.mergesStderr() {
		if p.stderr, err = create("stderr"); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) closePipes() error {
	var errs []error
	for _, pp := range []*pipe.Pipe{p.stdin, p.stdout, p.stderr} {
		if pp != nil {
			errs = append(errs, pp.Close())
		}
	}
	return errors.Join(errs...)
}

func (p *Process) feedStdin(stdin *pipe.Pipe, input []byte) {
	n, err := stdin.Write(input)
	if err != nil && !isBrokenPipe(err) {
		p.log.WithError(err).WithField("bytes", n).Warn("Could not write stdin input")
	}
	if err := stdin.Close(); err != nil {
		p.log.WithError(err).Warn("Could not close stdin")
	}
}

// finish is called once, when waitNative returns.
func (p *Process) finish(exit exitInfo) {
	p.exit = exit
	close(p.done)
	entry := p.log.WithField("exitCode", exit.code)
	if exit.err != nil {
		entry.WithError(exit.err).Error("Could not determine how child exited")
		return
	}
	entry.WithField("killed", exit.killed).Info("Child exited")
}

func (p *Process) isStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Process) hasExited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// State reports where the Process is in its lifecycle.
func (p *Process) State() State {
	switch {
	case p.hasExited():
		return StateExited
	case p.isStarted():
		return StateRunning
	}
	return StateCreated
}

// Wait blocks until the child has exited and any background readers have
// drained the remaining output. Readers still running DrainTimeout after the
// exit are stopped; this happens when a grandchild holds on to a copy of an
// output pipe. Wait returns immediately if the Process was never started or
// its handles have been closed.
func (p *Process) Wait() {
	if !p.isStarted() || p.handlesClosed.Load() {
		return
	}
	<-p.done
	p.waitReaders()
}

// WaitContext is Wait, but gives up when ctx is done. The goroutine running
// Wait is left behind in that case and finishes once Wait returns.
func (p *Process) WaitContext(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		p.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) waitReaders() {
	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	for name, pp := range map[string]*pipe.Pipe{"stdout": p.stdout, "stderr": p.stderr} {
		if pp == nil {
			continue
		}
		var err error
		select {
		case <-pp.Done():
			err = pp.Wait()
		case <-ctx.Done():
			p.log.WithField("stream", name).Warn("Output still open after child exited, stopping background read")
			err = pp.EndRead()
		}
		if err != nil {
			p.log.WithError(err).WithField("stream", name).Warn("Background read stopped with an error")
		}
	}
}

// Done returns a channel which is closed once the started child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports, without blocking, whether the child has been started
// and has not yet exited.
func (p *Process) IsRunning() bool {
	return p.isStarted() && !p.hasExited()
}

// ExitCode returns the exit code of the child, or 0 if it has not been
// started or has not yet exited.
func (p *Process) ExitCode() uint32 {
	code, _ := p.ExitStatus()
	return code
}

// ExitStatus returns the exit code and whether the child has exited.
func (p *Process) ExitStatus() (code uint32, exited bool) {
	if !p.hasExited() {
		return 0, false
	}
	return p.exit.code, true
}

// PID returns the process id of the child, or 0 if it has not been started.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Kill forcibly terminates the child, which then reports exitCode as its
// exit code. Kill returns false if the child was never started, its handles
// were closed, or the operating system refused.
func (p *Process) Kill(exitCode uint32) bool {
	if !p.isStarted() || p.handlesClosed.Load() {
		return false
	}
	return p.kill(exitCode)
}

// CloseHandles gives up the handles to the child without waiting for it.
// Afterwards Kill returns false and Wait returns immediately.
func (p *Process) CloseHandles() error {
	if !p.isStarted() || p.handlesClosed.Swap(true) {
		return nil
	}
	return p.closeNativeHandles()
}

// StandardIn returns the pipe connected to the child's stdin.
func (p *Process) StandardIn() (*pipe.Pipe, error) {
	return p.stream(p.opts.RedirectStdin, func() *pipe.Pipe { return p.stdin })
}

// StandardOut returns the pipe connected to the child's stdout.
func (p *Process) StandardOut() (*pipe.Pipe, error) {
	return p.stream(p.opts.RedirectStdout, func() *pipe.Pipe { return p.stdout })
}

// StandardError returns the pipe connected to the child's stderr. If stderr
// is merged into stdout there is no such pipe and ErrNotRedirected is
// returned.
func (p *Process) StandardError() (*pipe.Pipe, error) {
	return p.stream(p.opts.RedirectStderr && !p.opts.mergesStderr(), func() *pipe.Pipe { return p.stderr })
}

func (p *Process) stream(redirected bool, get func() *pipe.Pipe) (*pipe.Pipe, error) {
	if !redirected {
		return nil, ErrNotRedirected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, ErrNotStarted
	}
	return get(), nil
}

// WriteStdin writes data to the child's stdin.
func (p *Process) WriteStdin(data []byte) error {
	stdin, err := p.StandardIn()
	if err != nil {
		return err
	}
	_, err = stdin.Write(data)
	return err
}

// CloseStdin closes the stdin pipe so that the child reads end of file. It
// does nothing if stdin was not redirected or the child not started.
func (p *Process) CloseStdin() error {
	stdin, err := p.StandardIn()
	if err != nil {
		return nil
	}
	return stdin.Close()
}

// BeginReadStdout starts delivering the child's stdout to h, or to the
// handler given in the options if h is nil.
func (p *Process) BeginReadStdout(h pipe.Handler) error {
	return p.beginRead(p.StandardOut, h, p.opts.StdoutHandler)
}

// BeginReadStderr starts delivering the child's stderr to h, or to the
// handler given in the options if h is nil.
func (p *Process) BeginReadStderr(h pipe.Handler) error {
	return p.beginRead(p.StandardError, h, p.opts.StderrHandler)
}

func (p *Process) beginRead(stream func() (*pipe.Pipe, error), h, fallback pipe.Handler) error {
	pp, err := stream()
	if err != nil {
		return err
	}
	if h == nil {
		h = fallback
	}
	if h == nil {
		return ErrNoHandler
	}
	return pp.BeginRead(h)
}

// EndReadStdout stops the background reader of the child's stdout. Reading
// can be resumed with BeginReadStdout.
func (p *Process) EndReadStdout() error {
	pp, err := p.StandardOut()
	if err != nil {
		return err
	}
	return pp.EndRead()
}

// EndReadStderr stops the background reader of the child's stderr.
func (p *Process) EndReadStderr() error {
	pp, err := p.StandardError()
	if err != nil {
		return err
	}
	return pp.EndRead()
}

// Close stops background readers and the resource monitor, closes all pipes
// and gives up the handles to the child. It does not wait for or kill the
// child.
func (p *Process) Close() error {
	p.mu.Lock()
	m := p.monitor
	pipes := []*pipe.Pipe{p.stdin, p.stdout, p.stderr}
	p.mu.Unlock()
	if m != nil {
		m.stop()
	}
	var errs []error
	for _, pp := range pipes {
		if pp != nil {
			errs = append(errs, pp.Close())
		}
	}
	return errors.Join(append(errs, p.CloseHandles())...)
}
