package cmdline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	for _, tc := range []struct {
		line string
		want []string
	}{
		{"sh -c 'exit 7'", []string{"sh", "-c", "exit 7"}},
		{`printf "%s" a\ b`, []string{"printf", "%s", "a b"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"", []string{}},
	} {
		got, err := Split(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestSplitUnterminatedQuote(t *testing.T) {
	_, err := Split(`echo "oops`)
	assert.Error(t, err)
}

func TestJoinRoundTrip(t *testing.T) {
	args := []string{"echo", "two words", "it's", `back\slash`, "$HOME"}
	got, err := Split(Join(args...))
	require.NoError(t, err)
	assert.Equal(t, args, got)
}
