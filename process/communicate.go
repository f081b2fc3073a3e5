package process

import (
	"io"

	"golang.org/x/sync/errgroup"
)

// Communicate writes input to the child's stdin and closes it, reads stdout
// and stderr until end of file, and waits for the child to exit. The streams
// are serviced concurrently, so a child filling one pipe while the parent
// writes to another cannot deadlock. Streams which were not redirected are
// skipped; input for a child without a stdin pipe is ErrNotRedirected.
//
// If the options carry StdinInput, that payload is the child's input and
// stdin is left to it; passing input as well is ErrStdinInputConfigured.
func (p *Process) Communicate(input []byte) (stdout, stderr []byte, err error) {
	if !p.isStarted() {
		return nil, nil, ErrNotStarted
	}
	in, inErr := p.StandardIn()
	switch {
	case inErr != nil && len(input) > 0:
		return nil, nil, inErr
	case p.opts.StdinInput != nil && len(input) > 0:
		return nil, nil, ErrStdinInputConfigured
	case p.opts.StdinInput != nil:
		in = nil
	}
	out, _ := p.StandardOut()
	errp, _ := p.StandardError()

	var g errgroup.Group
	if in != nil {
		g.Go(func() error {
			defer in.Close()
			if len(input) == 0 {
				return nil
			}
			if _, err := in.Write(input); err != nil && !isBrokenPipe(err) {
				return err
			}
			return nil
		})
	}
	if out != nil {
		g.Go(func() (err error) {
			stdout, err = io.ReadAll(out.Reader())
			return
		})
	}
	if errp != nil {
		g.Go(func() (err error) {
			stderr, err = io.ReadAll(errp.Reader())
			return
		})
	}
	err = g.Wait()
	p.Wait()
	return stdout, stderr, err
}
