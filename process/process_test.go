package process

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// output collects what a background reader delivers.
type output struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (o *output) handle(chunk []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Write(chunk)
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func TestNotStarted(t *testing.T) {
	p := New(nil)
	defer p.Close()

	assert.Equal(t, StateCreated, p.State())
	assert.Equal(t, "created", p.State().String())
	assert.False(t, p.IsRunning())
	assert.Equal(t, uint32(0), p.ExitCode())
	_, exited := p.ExitStatus()
	assert.False(t, exited)
	assert.Equal(t, 0, p.PID())
	assert.False(t, p.Kill(1))
	assert.Nil(t, p.Result())
	assert.NotEmpty(t, p.LaunchID())

	p.Wait()

	_, err := p.StandardOut()
	assert.ErrorIs(t, err, ErrNotRedirected)
	assert.ErrorIs(t, p.WriteStdin([]byte("x")), ErrNotRedirected)
	assert.NoError(t, p.CloseStdin())
	assert.NoError(t, p.CloseHandles())
	assert.ErrorIs(t, p.StartMonitor(0, nil), ErrNotStarted)
	_, _, err = p.Communicate(nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.ErrorIs(t, p.Start(), ErrNoCommand)
	assert.Equal(t, StateCreated, p.State())
}

func TestRedirectedButNotStarted(t *testing.T) {
	p := New(NewOptions().RedirectStdoutPipe().RedirectStdinPipe())
	_, err := p.StandardOut()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, p.WriteStdin([]byte("x")), ErrNotStarted)
	assert.ErrorIs(t, p.BeginReadStdout(func([]byte) {}), ErrNotStarted)
}

func TestNewCopiesOptions(t *testing.T) {
	o := NewOptions().WithArgs("a")
	p := New(o)
	o.Args[0] = "b"
	assert.Equal(t, []string{"a"}, p.Options().Args)
}

func TestResultString(t *testing.T) {
	r := &Result{ExitCode: 0, Pid: 42}
	assert.Equal(t, "SUCCEEDED", r.Verdict())
	assert.Contains(t, r.String(), "Result: SUCCEEDED")

	r.ExitCode = 3
	assert.Equal(t, "FAILED", r.Verdict())

	r.Killed = true
	assert.Equal(t, "KILLED", r.Verdict())
	assert.False(t, r.Succeeded())

	r.Usage = &ResourceUsage{Samples: 2, PeakRSS: 3 * 1024 * 1024, AverageRSS: 2048}
	assert.Contains(t, r.String(), "3.00 MiB")
	assert.Contains(t, r.String(), "2.00 KiB")
}

func TestFormatMemoryString(t *testing.T) {
	assert.Equal(t, "512 B", FormatMemoryString(512))
	assert.Equal(t, "1.50 KiB", FormatMemoryString(1536))
	assert.Equal(t, "2.00 GiB", FormatMemoryString(2*1024*1024*1024))
}
