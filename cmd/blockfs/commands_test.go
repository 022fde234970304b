package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runApp runs the command line tool against `image` and returns its output.
func runApp(t *testing.T, image string, args ...string) (string, error) {
	app := newApp()
	output := &bytes.Buffer{}
	app.Writer = output
	app.ErrWriter = output

	fullArgs := append([]string{"blockfs", "--image", image, "--log-level", "error"}, args...)
	err := app.Run(fullArgs)
	return output.String(), err
}

func TestSplitPath(t *testing.T) {
	dirs, base := splitPath("/a/b//c.txt")
	assert.Equal(t, []string{"a", "b"}, dirs)
	assert.Equal(t, "c.txt", base)

	dirs, base = splitPath("/")
	assert.Empty(t, dirs)
	assert.Equal(t, "", base)

	dirs, base = splitPath("./x")
	assert.Empty(t, dirs)
	assert.Equal(t, "x", base)
}

func TestCommands__RoundTrip(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "image.bfs")
	source := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(source, []byte("hello world"), 0o644))

	output, err := runApp(t, image, "format", "--blocks", "32", "--block-size", "64")
	require.NoError(t, err)
	assert.Contains(t, output, "32 blocks of 64 bytes")

	_, err = runApp(t, image, "mkdir", "/docs")
	require.NoError(t, err)
	_, err = runApp(t, image, "put", source, "/docs/hello.txt")
	require.NoError(t, err)

	output, err = runApp(t, image, "cat", "docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", output)

	output, err = runApp(t, image, "ls")
	require.NoError(t, err)
	assert.Contains(t, output, "docs")

	output, err = runApp(t, image, "ls", "--csv", "/docs")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "name,is_directory,size,blocks,block", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "hello.txt,false,11,2,"), lines[1])

	output, err = runApp(t, image, "info")
	require.NoError(t, err)
	assert.Contains(t, output, "formatted:")
	assert.Contains(t, output, "true")

	_, err = runApp(t, image, "rm", "/docs")
	require.NoError(t, err)
	_, err = runApp(t, image, "cat", "/docs/hello.txt")
	assert.ErrorIs(t, err, blockfs.ErrNotFound)
}

func TestCommands__Errors(t *testing.T) {
	image := filepath.Join(t.TempDir(), "image.bfs")

	_, err := runApp(t, image, "ls")
	assert.ErrorIs(t, err, blockfs.ErrNotFound, "image must exist")
	_, err = os.Stat(image)
	assert.True(t, os.IsNotExist(err), "ls must not create an image")

	_, err = runApp(t, image, "format", "--blocks", "8", "--block-size", "64")
	require.NoError(t, err)

	_, err = runApp(t, image, "mkdir")
	assert.ErrorIs(t, err, blockfs.ErrInvalidArgument)
	_, err = runApp(t, image, "mkdir", "/")
	assert.ErrorIs(t, err, blockfs.ErrInvalidArgument)
	_, err = runApp(t, image, "rm", "/missing")
	assert.ErrorIs(t, err, blockfs.ErrNotFound)
	_, err = runApp(t, image, "mkdir", "/missing/child")
	assert.ErrorIs(t, err, blockfs.ErrNotFound)
}
