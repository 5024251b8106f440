package main

import (
	"bytes"
	"errors"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northos/northfs/config"
	"github.com/northos/northfs/fs"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Image:       filepath.Join(t.TempDir(), "vol.img"),
		Blocks:      1000,
		Inodes:      200,
		CacheInodes: 100,
		CacheBlocks: 256,
		LogLevel:    "error",
	}
}

// northfs runs one command line against conf and returns what it printed.
func northfs(conf *config.Config, args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp(conf)
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"northfs"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, conf *config.Config, args ...string) string {
	out, err := northfs(conf, args...)
	require.NoError(t, err, "northfs %s: %s", strings.Join(args, " "), out)
	return out
}

func TestMkfsAndDf(t *testing.T) {
	conf := testConfig(t)
	out := mustRun(t, conf, "mkfs", "--blocks", "600", "--inodes", "64")
	assert.Contains(t, out, "size 600")
	assert.Contains(t, out, "ninodes 64")

	out = mustRun(t, conf, "df")
	assert.Contains(t, out, "inodes 64 free 62\n")

	out = mustRun(t, conf, "fsck")
	assert.Equal(t, "1 inodes, 1 blocks in use\n", out)
}

func TestFileCommands(t *testing.T) {
	conf := testConfig(t)
	mustRun(t, conf, "mkfs")

	data := bytes.Repeat([]byte("northfs "), 700)
	host := filepath.Join(t.TempDir(), "host.txt")
	require.NoError(t, ioutil.WriteFile(host, data, 0644))

	mustRun(t, conf, "put", "/f", host)
	assert.Equal(t, string(data), mustRun(t, conf, "cat", "/f"))
	assert.Equal(t, string(data), mustRun(t, conf, "get", "/f"), "get is an alias of cat")

	mustRun(t, conf, "ln", "/f", "/g")
	assert.Contains(t, mustRun(t, conf, "stat", "/g"), "nlink 2 size 5600\n")

	mustRun(t, conf, "mkdir", "/d")
	mustRun(t, conf, "mknod", "/d/null", "2", "0")
	assert.Equal(t, "", mustRun(t, conf, "cat", "/d/null"))

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(mustRun(t, conf, "ls", "/d")), "\n") {
		names = append(names, strings.Fields(line)[0])
	}
	assert.Equal(t, []string{".", "..", "null"}, names)
	root := mustRun(t, conf, "ls")
	assert.Contains(t, root, "f ")
	assert.Contains(t, root, "g ")

	mustRun(t, conf, "rm", "/f")
	assert.Contains(t, mustRun(t, conf, "stat", "/g"), "nlink 1 size 5600\n")
	mustRun(t, conf, "unlink", "/d/null")

	out := mustRun(t, conf, "fsck")
	assert.Contains(t, out, "3 inodes")
}

func TestCommandErrors(t *testing.T) {
	conf := testConfig(t)
	_, err := northfs(conf, "ls")
	assert.Error(t, err, "no image yet")

	mustRun(t, conf, "mkfs")
	_, err = northfs(conf, "cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing argument 1")

	_, err = northfs(conf, "cat", "/missing")
	assert.True(t, errors.Is(err, fs.ErrNotFound))

	_, err = northfs(conf, "mknod", "/dev", "x", "0")
	assert.Error(t, err)

	mustRun(t, conf, "mkdir", "/d")
	_, err = northfs(conf, "mkdir", "/d")
	assert.True(t, errors.Is(err, fs.ErrExists))

	_, err = northfs(conf, "--log-level", "loud", "df")
	assert.Error(t, err)

	_, err = northfs(testConfig(t), "mkfs", "--inodes", "70000")
	assert.Error(t, err)
}
