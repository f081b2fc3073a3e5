package process

import (
	"slices"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/taskcluster/childproc/pipe"
)

// Creation flags. The values are those of the Windows process creation flags;
// on other platforms CreateNewProcessGroup and DetachedProcess are honoured
// and the rest are ignored.
const (
	CreateSuspended        uint32 = 0x00000004
	DetachedProcess        uint32 = 0x00000008
	CreateNewConsole       uint32 = 0x00000010
	CreateNewProcessGroup  uint32 = 0x00000200
	CreateBreakawayFromJob uint32 = 0x01000000
	CreateNoWindow         uint32 = 0x08000000
)

// Options describes how a child process is launched. The builder methods
// modify the receiver and return it, so calls can be chained. Nothing is
// validated until the process is started.
type Options struct {
	// Application is the executable to run. If empty, the first word of the
	// command line is used.
	Application string
	// CommandLine is the full command line, including the program name.
	CommandLine string
	// Args is used instead of CommandLine when set. Args[0] is the program
	// name seen by the child.
	Args []string
	// WorkingDirectory of the child; empty means the parent's.
	WorkingDirectory string
	// Env of the child as KEY=value pairs; nil means the parent's.
	Env []string

	CreationFlags  uint32
	InheritHandles *bool

	RedirectStdin  bool
	RedirectStdout bool
	RedirectStderr bool
	StderrToStdout bool

	StdoutHandler pipe.Handler
	StderrHandler pipe.Handler

	// StdinInput is written to the child right after it starts, after which
	// its stdin is closed.
	StdinInput []byte

	Logger         logrus.FieldLogger
	ReadBufferSize int `default:"4096"`
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	o := &Options{}
	defaults.SetDefaults(o)
	// go-defaults fills untagged slices with empty ones; nil means "inherit"
	// for Env and "no payload" for StdinInput
	o.Args, o.Env, o.StdinInput = nil, nil, nil
	return o
}

func (o *Options) WithApplication(application string) *Options {
	o.Application = application
	return o
}

func (o *Options) WithCommandLine(commandLine string) *Options {
	o.CommandLine = commandLine
	return o
}

func (o *Options) WithArgs(args ...string) *Options {
	o.Args = args
	return o
}

func (o *Options) WithWorkingDirectory(dir string) *Options {
	o.WorkingDirectory = dir
	return o
}

func (o *Options) WithEnv(env []string) *Options {
	o.Env = env
	return o
}

func (o *Options) WithCreationFlags(flags uint32) *Options {
	o.CreationFlags = flags
	return o
}

// ExplicitlyInheritHandles overrides whether the child inherits inheritable
// handles of the parent.
func (o *Options) ExplicitlyInheritHandles(inherit bool) *Options {
	o.InheritHandles = &inherit
	return o
}

func (o *Options) RedirectStdinPipe() *Options {
	o.RedirectStdin = true
	return o
}

func (o *Options) RedirectStdoutPipe() *Options {
	o.RedirectStdout = true
	return o
}

func (o *Options) RedirectStderrPipe() *Options {
	o.RedirectStderr = true
	return o
}

// RedirectStdoutTo redirects stdout and sets the handler used by
// BeginReadStdout.
func (o *Options) RedirectStdoutTo(h pipe.Handler) *Options {
	o.RedirectStdout = true
	o.StdoutHandler = h
	return o
}

// RedirectStderrTo redirects stderr and sets the handler used by
// BeginReadStderr.
func (o *Options) RedirectStderrTo(h pipe.Handler) *Options {
	o.RedirectStderr = true
	o.StderrHandler = h
	return o
}

// RedirectStderrToStdout makes the child write stderr into the stdout pipe.
// It only takes effect when both streams are redirected.
func (o *Options) RedirectStderrToStdout() *Options {
	o.StderrToStdout = true
	return o
}

// WithStdinInput redirects stdin and writes input to it once the child has
// started.
func (o *Options) WithStdinInput(input []byte) *Options {
	o.RedirectStdin = true
	o.StdinInput = input
	return o
}

func (o *Options) WithLogger(logger logrus.FieldLogger) *Options {
	o.Logger = logger
	return o
}

func (o *Options) WithReadBufferSize(size int) *Options {
	o.ReadBufferSize = size
	return o
}

// InheritHandlesEffective reports whether the child inherits handles: the
// explicit setting if there is one, otherwise whether any stream is
// redirected.
func (o *Options) InheritHandlesEffective() bool {
	if o.InheritHandles != nil {
		return *o.InheritHandles
	}
	return o.RedirectStdin || o.RedirectStdout || o.RedirectStderr
}

// Clone returns a deep copy of o.
func (o *Options) Clone() *Options {
	c := *o
	c.Args = slices.Clone(o.Args)
	c.Env = slices.Clone(o.Env)
	c.StdinInput = slices.Clone(o.StdinInput)
	if o.InheritHandles != nil {
		inherit := *o.InheritHandles
		c.InheritHandles = &inherit
	}
	return &c
}

// mergesStderr reports whether stderr shares the stdout pipe.
func (o *Options) mergesStderr() bool {
	return o.StderrToStdout && o.RedirectStdout && o.RedirectStderr
}
