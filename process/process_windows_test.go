package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func cmd(script string) *Options {
	return NewOptions().WithCommandLine(`cmd.exe /c "` + script + `"`)
}

func TestHelloExitCode(t *testing.T) {
	out := &output{}
	p := New(cmd("echo hello& exit /b 7").RedirectStdoutTo(out.handle))
	require.NoError(t, p.Start())
	defer p.Close()
	require.NoError(t, p.BeginReadStdout(nil))

	p.Wait()
	assert.Equal(t, "hello\r\n", out.String())
	assert.Equal(t, uint32(7), p.ExitCode())
	assert.NotZero(t, p.ThreadHandle())
}

func TestKillReportsRequestedCode(t *testing.T) {
	p := New(cmd("ping -n 30 127.0.0.1 >NUL"))
	require.NoError(t, p.Start())
	defer p.Close()

	var code uint32
	require.NoError(t, windows.GetExitCodeProcess(p.NativeHandle(), &code))
	assert.Equal(t, uint32(stillActive), code)

	require.True(t, p.Kill(9))
	p.Wait()
	assert.False(t, p.IsRunning())
	assert.Equal(t, uint32(9), p.ExitCode())
	assert.Equal(t, "KILLED", p.Result().Verdict())
}

func TestMergeStderrIntoStdout(t *testing.T) {
	out := &output{}
	opts := cmd("echo out& echo err 1>&2").
		RedirectStdoutTo(out.handle).
		RedirectStderrPipe().
		RedirectStderrToStdout()
	p := New(opts)
	require.NoError(t, p.Start())
	defer p.Close()
	require.NoError(t, p.BeginReadStdout(nil))
	_, err := p.StandardError()
	assert.ErrorIs(t, err, ErrNotRedirected)

	p.Wait()
	assert.True(t, strings.Contains(out.String(), "out"))
	assert.True(t, strings.Contains(out.String(), "err"))
}

func TestCommandLineFromArgs(t *testing.T) {
	out := &output{}
	p := New(NewOptions().WithArgs("cmd.exe", "/c", "echo", "two words").RedirectStdoutTo(out.handle))
	require.NoError(t, p.Start())
	defer p.Close()
	require.NoError(t, p.BeginReadStdout(nil))
	p.Wait()
	assert.Contains(t, out.String(), "two words")
}

func TestEnvBlock(t *testing.T) {
	block, err := createEnvBlock([]string{"A=1", "B=2"})
	require.NoError(t, err)
	assert.Equal(t, "A=1", windows.UTF16PtrToString(block))

	_, err = createEnvBlock([]string{"BAD=\x00"})
	assert.Error(t, err)
}
