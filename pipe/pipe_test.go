package pipe

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	nullLog "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipe(t *testing.T, opts ...CreateOption) *Pipe {
	t.Helper()
	p, err := Create(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// collector gathers the chunks delivered to a background handler.
type collector struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	chunks int
}

func (c *collector) handle(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(chunk)
	c.chunks++
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func TestReadAfterWriteEndClosed(t *testing.T) {
	p := testPipe(t)
	require.NoError(t, p.CloseWrite())

	data, err := p.Read(0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWriteFlushRead(t *testing.T) {
	p := testPipe(t)
	n, err := p.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, p.Flush())

	data, err := p.Read(16)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))
	assert.True(t, p.WriteEnd().Valid(), "write end must stay open")
}

func TestReadLine(t *testing.T) {
	p := testPipe(t)
	require.NoError(t, p.WriteLine("first"))
	require.NoError(t, p.WriteLine("second\r"))
	_, err := p.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, p.CloseWrite())

	for _, want := range []string{"first", "second\r", "tail", ""} {
		line, err := p.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, string(line))
	}
}

func TestClosedEnds(t *testing.T) {
	p := testPipe(t)
	require.NoError(t, p.Close())

	_, err := p.Read(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Flush(), ErrClosed)
	assert.ErrorIs(t, p.BeginRead(func([]byte) {}), ErrClosed)
	assert.NoError(t, p.Close(), "closing twice is harmless")
}

func TestNew(t *testing.T) {
	src := testPipe(t)
	p := New(src.ReadEnd().Release(), nil)
	defer p.Close()

	assert.True(t, p.ReadEnd().Valid())
	assert.False(t, p.WriteEnd().Valid())
	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, src.WriteLine("moved"))
	line, err := p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "moved", string(line))
}

func TestBeginReadUntilEOF(t *testing.T) {
	logger, hook := nullLog.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	p := testPipe(t, WithLogger(logger), WithBufferSize(3))

	c := &collector{}
	require.NoError(t, p.BeginRead(c.handle))
	_, err := p.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, p.CloseWrite())

	require.NoError(t, p.Wait())
	<-p.Done()
	assert.Equal(t, "hello world", c.String())
	assert.GreaterOrEqual(t, c.chunks, 4, "chunks are limited to the buffer size")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Background read reached end of file", hook.LastEntry().Message)

	// still attached until EndRead
	assert.ErrorIs(t, p.BeginRead(c.handle), ErrAlreadyRunning)
	require.NoError(t, p.EndRead())
}

func TestBeginReadTwice(t *testing.T) {
	p := testPipe(t)
	first := &collector{}
	require.NoError(t, p.BeginRead(first.handle))
	assert.ErrorIs(t, p.BeginRead(first.handle), ErrAlreadyRunning)

	_, err := p.Read(1)
	assert.ErrorIs(t, err, ErrBackgroundRead)

	require.NoError(t, p.EndRead())
	second := &collector{}
	require.NoError(t, p.BeginRead(second.handle))

	require.NoError(t, p.WriteLine("after restart"))
	require.NoError(t, p.CloseWrite())
	require.NoError(t, p.Wait())
	assert.Equal(t, "after restart\n", second.String())
	assert.Empty(t, first.String())
}

func TestEndReadInterruptsBlockedRead(t *testing.T) {
	p := testPipe(t)
	require.NoError(t, p.BeginRead(func([]byte) {}))

	ended := make(chan error, 1)
	go func() { ended <- p.EndRead() }()
	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("EndRead did not interrupt the pending read")
	}

	assert.True(t, p.ReadEnd().Valid(), "read end survives EndRead")
	require.NoError(t, p.WriteLine("sync"))
	line, err := p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "sync", string(line))
}

func TestBeginReadNoHandler(t *testing.T) {
	p := testPipe(t)
	assert.ErrorIs(t, p.BeginRead(nil), ErrNoHandler)
	assert.NoError(t, p.EndRead(), "EndRead without a reader is a no-op")
	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed when no reader is attached")
	}
}

func TestStreamAdapters(t *testing.T) {
	p := testPipe(t)
	go func() {
		io.WriteString(p.Writer(), "streamed data")
		p.CloseWrite()
	}()
	data, err := io.ReadAll(p.Reader())
	require.NoError(t, err)
	assert.Equal(t, "streamed data", string(data))

	q := testPipe(t)
	rw := q.Stream()
	_, err = rw.Write([]byte("echo"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(rw, buf)
	require.NoError(t, err)
	assert.Equal(t, "echo", string(buf))
}
