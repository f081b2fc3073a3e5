package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Flaque/filet"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := filet.TmpDir(t, "")
	path := filepath.Join(dir, "childproc.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.True(t, c.InheritEnv)
	assert.Equal(t, 4096, c.ReadBufferSize)
	assert.Equal(t, uint32(1), c.KillCode)
	assert.Equal(t, "text", c.LogFormat)
	assert.Nil(t, c.Environment(), "inherit unchanged environment")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	defer filet.CleanUp(t)
	path := writeConfig(t, `
args: [sh, -c, "exit 3"]
mergeStderr: true
killAfter: 90s
env:
  - FOO=bar
`)
	c, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", "-c", "exit 3"}, c.Args)
	assert.True(t, c.MergeStderr)
	assert.Equal(t, 4096, c.ReadBufferSize, "defaults survive the merge")
	assert.True(t, c.InheritEnv)

	d, err := c.KillAfterDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	env := c.Environment()
	assert.Equal(t, "FOO=bar", env[len(env)-1])
}

func TestLoadOverrides(t *testing.T) {
	defer filet.CleanUp(t)
	path := writeConfig(t, "commandLine: sleep 1\nkillCode: 3\n")
	c, err := Load(path, map[string]interface{}{
		"killCode":   9,
		"inheritEnv": false,
	})
	require.NoError(t, err)
	assert.Equal(t, "sleep 1", c.CommandLine)
	assert.Equal(t, uint32(9), c.KillCode)
	assert.Equal(t, []string{}, c.Environment(), "empty, not inherited")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	defer filet.CleanUp(t)
	for _, content := range []string{
		"unknownKey: 1\n",
		"readBufferSize: 0\n",
		"logFormat: xml\n",
		"env: [NOEQUALS]\n",
		"killAfter: soon\n",
		"args: [unterminated\n",
	} {
		_, err := Load(writeConfig(t, content), nil)
		assert.Error(t, err, content)
	}

	_, err := Load(writeConfig(t, ""), map[string]interface{}{"killCode": -1})
	assert.Error(t, err)
}

func TestLoadMissingFiles(t *testing.T) {
	defer filet.CleanUp(t)
	t.Setenv("XDG_CONFIG_HOME", filet.TmpDir(t, ""))

	c, err := Load("", nil)
	require.NoError(t, err, "missing default file is fine")
	assert.Equal(t, Defaults(), c)

	_, err = Load(filepath.Join(DefaultPath()+".missing"), nil)
	assert.Error(t, err, "missing explicit file is not")
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "childproc.yml"), DefaultPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/someone")
	assert.Equal(t, filepath.Join("/home/someone", ".config", "childproc.yml"), DefaultPath())
}

func TestWorkingDirectoryExpansion(t *testing.T) {
	defer filet.CleanUp(t)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	home := filet.TmpDir(t, "")
	t.Setenv("HOME", home)

	c, err := Load(writeConfig(t, "workingDirectory: ~/work\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "work"), c.WorkingDirectory)
}

func TestSaveAndShow(t *testing.T) {
	defer filet.CleanUp(t)
	c := Defaults()
	c.CommandLine = "echo hi"
	c.MonitorInterval = "1s"
	path := filepath.Join(filet.TmpDir(t, ""), "nested", "childproc.yml")
	require.NoError(t, c.Save(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	var buf bytes.Buffer
	require.NoError(t, c.Show(&buf))
	assert.Contains(t, buf.String(), "commandLine: echo hi")
	assert.Contains(t, buf.String(), "readBufferSize: 4096")
}

func TestOptions(t *testing.T) {
	c := Defaults()
	c.Args = []string{"cat"}
	c.RedirectStdin = true
	c.MergeStderr = true
	c.ReadBufferSize = 64

	o := c.Options()
	assert.Equal(t, []string{"cat"}, o.Args)
	assert.True(t, o.RedirectStdin)
	assert.True(t, o.StderrToStdout)
	assert.Equal(t, 64, o.ReadBufferSize)
	assert.Nil(t, o.Env)
}
