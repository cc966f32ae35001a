package xnconvert

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/tempfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool copies the last argument to the path following -o.
const fakeTool = `#!/bin/sh
out=""
while [ $# -gt 1 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
cp "$1" "$out"
`

func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "nconvert")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestResizeRunsTool(t *testing.T) {
	c := New(writeFakeTool(t, fakeTool))
	require.True(t, c.Configured())

	dir := t.TempDir()
	scope := tempfile.NewScope(dir)
	out, err := c.Resize(context.Background(), scope, []byte("pixels"), "png", ResizeOptions{Width: 100, Format: domain.FormatPNG})
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), out)

	require.NoError(t, scope.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResizeReportsFailure(t *testing.T) {
	c := New(writeFakeTool(t, "#!/bin/sh\necho boom >&2\nexit 3\n"))
	_, err := c.Resize(context.Background(), tempfile.NewScope(t.TempDir()), []byte("x"), "png", ResizeOptions{Width: 10})
	assert.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestResizeRequiresConfiguration(t *testing.T) {
	_, err := New("  ").Resize(context.Background(), tempfile.NewScope(t.TempDir()), nil, "png", ResizeOptions{Width: 10})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New("/bin/true").Resize(context.Background(), tempfile.NewScope(t.TempDir()), nil, "png", ResizeOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestArgs(t *testing.T) {
	args := Args("in.png", "out.jpg", ResizeOptions{Width: 300, Format: domain.FormatJPEG, Quality: 85, Filter: domain.FilterMitchell})
	assert.Equal(t, []string{
		"-quiet", "-overwrite", "-out", "jpeg", "-q", "85",
		"-resize", "300", "0", "-ratio", "-rtype", "mitchell",
		"-o", "out.jpg", "in.png",
	}, args)

	args = Args("in.png", "out.png", ResizeOptions{Width: 300, Height: 200, Format: domain.FormatPNG})
	assert.NotContains(t, args, "-ratio")
	assert.NotContains(t, args, "-q")
}
