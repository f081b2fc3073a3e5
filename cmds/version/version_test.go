package version

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	assert "github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	assert := assert.New(t)

	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	printVersion(cmd, nil)

	assert.Contains(buf.String(), VersionNumber, "VersionNumber not found in version output")
	assert.Contains(buf.String(), runtime.GOOS)
}
