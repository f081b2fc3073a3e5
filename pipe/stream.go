package pipe

import "io"

type reader struct{ p *Pipe }

func (r reader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	chunk, err := r.p.Read(len(b))
	if err != nil {
		return 0, err
	}
	if len(chunk) == 0 {
		return 0, io.EOF
	}
	return copy(b, chunk), nil
}

type writer struct{ p *Pipe }

func (w writer) Write(b []byte) (int, error) {
	n, err := w.p.Write(b)
	if err != nil {
		return n, err
	}
	return n, w.p.Flush()
}

// Reader returns an io.Reader over the read end, reporting io.EOF once every
// write end is closed.
func (p *Pipe) Reader() io.Reader {
	return reader{p}
}

// Writer returns an io.Writer over the write end which flushes after every
// write.
func (p *Pipe) Writer() io.Writer {
	return writer{p}
}

// Stream returns both directions of the pipe as a single io.ReadWriter.
func (p *Pipe) Stream() io.ReadWriter {
	return struct {
		io.Reader
		io.Writer
	}{reader{p}, writer{p}}
}
