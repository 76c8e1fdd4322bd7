package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agdrone/atlana/pkg/workfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDockerCommandArgs(t *testing.T) {
	d := NewDockerRunner(false)

	spec := RunSpec{
		Image:        "agdrone/drone-workflow:1.1",
		Command:      "soilmask",
		InputFolder:  "/run/wf1",
		OutputFolder: "/run/wf1/soilmask",
		ArgsPath:     "/run/wf1/soilmask/args.json",
	}

	args := d.commandArgs(spec)
	assert.Equal(t, []string{
		"run", "--rm",
		"-v", "/run/wf1:/input",
		"-v", "/run/wf1/soilmask:/output",
		"-v", "/run/wf1/soilmask/args.json:/args.json",
		"agdrone/drone-workflow:1.1", "run", "soilmask",
	}, args)
}

func TestDockerCommandArgsScifAndMounts(t *testing.T) {
	d := NewDockerRunner(true)

	spec := RunSpec{
		Image:        "agdrone/drone-workflow:1.1",
		Command:      "canopycover",
		InputFolder:  "/run/wf1",
		OutputFolder: "/run/wf1/canopycover",
		ArgsPath:     "/run/wf1/canopycover/args.json",
		ExtraMounts: []Mount{
			{Source: "/run/wf1/canopycover/found_files.json", Target: "/scif/apps/src/canopy_cover_files.json"},
		},
	}

	args := d.commandArgs(spec)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "/run/wf1/canopycover/args.json:/scif/apps/src/jx-args.json")
	assert.Contains(t, joined, "/run/wf1/canopycover/found_files.json:/scif/apps/src/canopy_cover_files.json")
	assert.Equal(t, "canopycover", args[len(args)-1])
}

// writeEngineScript fakes the container engine with a shell script so
// a Run exercises the real pipes and consumers
func writeEngineScript(t *testing.T, dir, body string) string {
	t.Helper()
	script := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0o755))
	return script
}

func TestDockerRunnerDrainsAllOutput(t *testing.T) {
	dir := t.TempDir()
	const total = 2000

	// Everything fits in the kernel pipe buffer, so the child exits
	// with its tail still unread
	d := NewDockerRunner(false)
	d.engine = writeEngineScript(t, dir, fmt.Sprintf(
		"i=0\nwhile [ $i -lt %d ]; do echo \"output line $i\"; i=$((i+1)); done\n", total))

	msgFile := filepath.Join(dir, workfile.StdoutFileName)
	errFile := filepath.Join(dir, workfile.StderrFileName)
	exitCode, err := d.Run(context.Background(), RunSpec{
		Image:        "agdrone/drone-workflow:1.1",
		Command:      "soilmask",
		InputFolder:  dir,
		OutputFolder: dir,
		ArgsPath:     filepath.Join(dir, "args.json"),
	}, msgFile, errFile)
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)

	raw, err := os.ReadFile(msgFile)
	require.NoError(t, err)
	assert.Equal(t, total, strings.Count(string(raw), "\n"), "trailing output must not be lost")
}

func TestDockerRunnerReportsExitCode(t *testing.T) {
	dir := t.TempDir()

	d := NewDockerRunner(false)
	d.engine = writeEngineScript(t, dir, "echo oops >&2\nexit 9\n")

	msgFile := filepath.Join(dir, workfile.StdoutFileName)
	errFile := filepath.Join(dir, workfile.StderrFileName)
	exitCode, err := d.Run(context.Background(), RunSpec{
		Image:        "agdrone/drone-workflow:1.1",
		Command:      "soilmask",
		InputFolder:  dir,
		OutputFolder: dir,
		ArgsPath:     filepath.Join(dir, "args.json"),
	}, msgFile, errFile)
	require.NoError(t, err)
	assert.Equal(t, 9, exitCode)

	raw, err := os.ReadFile(errFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "oops")
}

func TestConsumeStream(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "messages.txt")

	done := consumeStream(strings.NewReader("line one\nline two\npartial"), filename)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}

	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\npartial", string(raw))
}

func TestConsumeStreamFlushesAtThreshold(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "messages.txt")

	var b strings.Builder
	for i := 0; i < workfile.MaxCachedOutputLines*2; i++ {
		b.WriteString("output line\n")
	}

	done := consumeStream(strings.NewReader(b.String()), filename)
	<-done

	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	lines := strings.Count(string(raw), "\n")
	assert.Equal(t, workfile.MaxCachedOutputLines*2, lines)
}

func TestLineWriter(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "errors.txt")

	w := newLineWriter(filename)
	_, err := w.Write([]byte("first "))
	require.NoError(t, err)
	_, err = w.Write([]byte("half\nsecond line\ntrail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "first half\nsecond line\ntrail", string(raw))
}

func TestAwaitConsumers(t *testing.T) {
	msgDone := make(chan struct{})
	errDone := make(chan struct{})
	close(msgDone)
	close(errDone)

	start := time.Now()
	awaitConsumers("soilmask", msgDone, errDone)
	assert.Less(t, time.Since(start), time.Second, "closed channels should not block")
}
