package completions

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Flaque/filet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcluster/childproc/cmds/root"
)

func execute(args ...string) (string, error) {
	buf := &bytes.Buffer{}
	root.Command.SetOut(buf)
	root.Command.SetArgs(args)
	defer root.Command.SetOut(nil)
	err := root.Command.Execute()
	return buf.String(), err
}

func TestCompletionsToStdout(t *testing.T) {
	out, err := execute("completions", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "childproc")
}

func TestCompletionsToFile(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), "childproc.fish")
	_, err := execute("completions", "fish", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "complete -c childproc")
}

func TestUnsupportedShell(t *testing.T) {
	_, err := execute("completions", "tcsh")
	assert.Error(t, err)
}
