package pipe

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// worker is a single background reader. It stays attached to the pipe from
// BeginRead until EndRead, even after it has stopped on its own.
type worker struct {
	stop atomic.Bool
	done chan struct{}
	err  error
	intr interrupter
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// BeginRead starts a background reader which calls handler with every chunk
// read from the pipe, on a dedicated goroutine, until end of file, a read
// error, or EndRead. While it is attached, synchronous reads are rejected.
func (p *Pipe) BeginRead(handler Handler) error {
	return p.BeginReadWithErrors(handler, nil)
}

// BeginReadWithErrors is BeginRead, but a read failure other than end of file
// or cancellation is also passed to onError before the reader stops.
func (p *Pipe) BeginReadWithErrors(handler Handler, onError func(error)) error {
	if handler == nil {
		return ErrNoHandler
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader != nil {
		return ErrAlreadyRunning
	}
	f := p.read.Get()
	if f == nil {
		return ErrClosed
	}
	w := &worker{done: make(chan struct{})}
	ready := make(chan struct{})
	go p.run(w, f, handler, onError, ready)
	<-ready
	p.reader = w
	return nil
}

// EndRead stops the background reader, interrupting a read in progress, and
// waits for it to finish. It returns the error which stopped the reader, if
// any. EndRead does nothing if no background reader is attached.
func (p *Pipe) EndRead() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endRead()
}

// endRead must be called with p.mu held.
func (p *Pipe) endRead() error {
	w := p.reader
	if w == nil {
		return nil
	}
	p.reader = nil
	w.stop.Store(true)
	select {
	case <-w.done:
	default:
		w.intr.interrupt(p, w.done)
	}
	<-w.done
	w.intr.release()
	return w.err
}

// Done returns a channel which is closed once the attached background reader
// has stopped. If no reader is attached the channel is already closed.
func (p *Pipe) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return closedChan
	}
	return p.reader.done
}

// Wait blocks until the attached background reader stops on its own, without
// cancelling it, and returns the error which stopped it.
func (p *Pipe) Wait() error {
	p.mu.Lock()
	w := p.reader
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	<-w.done
	return w.err
}

func (p *Pipe) backgroundActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reader != nil
}

func (p *Pipe) run(w *worker, f *os.File, handler Handler, onError func(error), ready chan<- struct{}) {
	defer close(w.done)
	err := w.intr.enter()
	close(ready)
	if err != nil {
		w.err = &OSError{Op: "DuplicateHandle", Err: err}
		p.log.WithError(err).Error("Could not start background read")
		if onError != nil {
			onError(w.err)
		}
		return
	}
	defer w.intr.leave()

	for !w.stop.Load() {
		buf := make([]byte, p.bufferSize)
		n, err := readFile(f, buf)
		if n > 0 {
			handler(buf[:n])
		}
		switch {
		case err == nil:
			continue
		case err == io.EOF:
			p.log.Debug("Background read reached end of file")
			return
		case w.stop.Load() && (errors.Is(err, errInterrupted) || errors.Is(err, os.ErrClosed)):
			return
		}
		w.err = &OSError{Op: "read", Err: unwrapPathError(err)}
		p.log.WithError(err).Error("Background read failed")
		if onError != nil {
			onError(w.err)
		}
		return
	}
}
