// Package pipe implements anonymous pipes with explicit ownership of both
// ends, blocking reads and writes, and an optional background reader which
// delivers chunks of data to a handler as they arrive.
package pipe

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	nullLog "github.com/sirupsen/logrus/hooks/test"
	"github.com/taskcluster/childproc/handle"
)

// DefaultReadSize is the number of bytes requested by a read when the caller
// does not say otherwise.
const DefaultReadSize = 4096

// Handler receives the data read by a background reader. Each chunk is a
// freshly allocated slice which the handler may keep.
type Handler func(chunk []byte)

// Pipe is a unidirectional byte channel with a read end and a write end,
// either of which may be handed to a child process.
type Pipe struct {
	read  *handle.Handle[*os.File]
	write *handle.Handle[*os.File]

	bufferSize int
	log        logrus.FieldLogger

	// mu serializes BeginRead, EndRead and the Close methods
	mu     sync.Mutex
	reader *worker
}

type config struct {
	InheritRead  bool `default:"true"`
	InheritWrite bool `default:"false"`
	BufferSize   int  `default:"4096"`
	Logger       logrus.FieldLogger
}

// CreateOption customizes a Pipe returned by Create or New.
type CreateOption func(*config)

// InheritableRead sets whether the read end is inherited by child processes.
// The default is true.
func InheritableRead(inherit bool) CreateOption {
	return func(c *config) { c.InheritRead = inherit }
}

// InheritableWrite sets whether the write end is inherited by child processes.
// The default is false.
func InheritableWrite(inherit bool) CreateOption {
	return func(c *config) { c.InheritWrite = inherit }
}

// WithBufferSize sets the size of the chunks requested by the background
// reader.
func WithBufferSize(size int) CreateOption {
	return func(c *config) {
		if size > 0 {
			c.BufferSize = size
		}
	}
}

// WithLogger sets the logger used for background read diagnostics.
func WithLogger(logger logrus.FieldLogger) CreateOption {
	return func(c *config) { c.Logger = logger }
}

func newConfig(opts []CreateOption) *config {
	c := &config{}
	defaults.SetDefaults(c)
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		logger, _ := nullLog.NewNullLogger()
		c.Logger = logger
	}
	return c
}

// Create creates a new anonymous pipe. By default the read end is inheritable
// and the write end is not.
func Create(opts ...CreateOption) (*Pipe, error) {
	c := newConfig(opts)
	r, w, err := createPipe(c.InheritRead, c.InheritWrite)
	if err != nil {
		return nil, err
	}
	return newPipe(r, w, c), nil
}

// New wraps existing files as the ends of a Pipe, taking ownership of them.
// Either may be nil.
func New(read, write *os.File, opts ...CreateOption) *Pipe {
	return newPipe(read, write, newConfig(opts))
}

func newPipe(r, w *os.File, c *config) *Pipe {
	p := &Pipe{
		read:       handle.Invalid[*os.File](),
		write:      handle.Invalid[*os.File](),
		bufferSize: c.BufferSize,
		log:        c.Logger,
	}
	if r != nil {
		p.read = handle.FromFile(r)
	}
	if w != nil {
		p.write = handle.FromFile(w)
	}
	return p
}

// ReadEnd returns the handle owning the read end.
func (p *Pipe) ReadEnd() *handle.Handle[*os.File] {
	return p.read
}

// WriteEnd returns the handle owning the write end.
func (p *Pipe) WriteEnd() *handle.Handle[*os.File] {
	return p.write
}

// Read performs a single blocking read of at most maxBytes bytes (DefaultReadSize
// if maxBytes <= 0). Once every write end has been closed and the buffered
// data consumed, Read returns an empty slice and a nil error.
func (p *Pipe) Read(maxBytes int) ([]byte, error) {
	if p.backgroundActive() {
		return nil, ErrBackgroundRead
	}
	f := p.read.Get()
	if f == nil {
		return nil, ErrClosed
	}
	if maxBytes <= 0 {
		maxBytes = DefaultReadSize
	}
	buf := make([]byte, maxBytes)
	n, err := readFile(f, buf)
	switch {
	case err == io.EOF:
		return buf[:0], nil
	case errors.Is(err, os.ErrClosed):
		return nil, ErrClosed
	case err != nil:
		return buf[:n], &OSError{Op: "read", Err: unwrapPathError(err)}
	}
	return buf[:n], nil
}

// ReadLine reads byte by byte until a newline, which is consumed but not
// returned, or until end of file. There is no limit on the line length.
func (p *Pipe) ReadLine() ([]byte, error) {
	var line bytes.Buffer
	for {
		b, err := p.Read(1)
		if err != nil {
			return line.Bytes(), err
		}
		if len(b) == 0 || b[0] == '\n' {
			return line.Bytes(), nil
		}
		line.WriteByte(b[0])
	}
}

// Write writes all of data to the write end, blocking while the pipe is
// full. On failure it returns the number of bytes written so far.
func (p *Pipe) Write(data []byte) (int, error) {
	f := p.write.Get()
	if f == nil {
		return 0, ErrClosed
	}
	// os.File.Write keeps writing until everything is written or an error occurs
	n, err := f.Write(data)
	switch {
	case errors.Is(err, os.ErrClosed):
		return n, ErrClosed
	case err != nil:
		return n, &OSError{Op: "write", Err: unwrapPathError(err)}
	}
	return n, nil
}

// WriteLine writes line followed by a newline.
func (p *Pipe) WriteLine(line string) error {
	_, err := p.Write([]byte(line + "\n"))
	return err
}

// Flush makes data written so far available to the reader.
func (p *Pipe) Flush() error {
	f := p.write.Get()
	if f == nil {
		return ErrClosed
	}
	return flushFile(f)
}

// CloseRead closes the read end, stopping a background reader first.
func (p *Pipe) CloseRead() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.endRead()
	return errors.Join(err, p.read.Reset())
}

// CloseWrite closes the write end. The reader sees end of file once no other
// copy of the write end remains open.
func (p *Pipe) CloseWrite() error {
	return p.write.Reset()
}

// Close stops a background reader and closes both ends.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.endRead()
	return errors.Join(err, p.read.Reset(), p.write.Reset())
}

func unwrapPathError(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
