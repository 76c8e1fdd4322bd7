// Package runner executes one algorithm step inside a container. Two
// engines are provided: a docker CLI engine and a containerd engine,
// both behind the same interface. The engines mount the workflow root
// read-side at /input, the step directory at /output, and the step's
// argument JSON at a fixed path, then invoke the image's entrypoint
// with "run <command>".
package runner

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/workfile"
)

// Container-side mount points shared by both engines
const (
	InputMountPoint  = "/input"
	OutputMountPoint = "/output"

	// ArgsMountPoint is where the argument JSON lands by default
	ArgsMountPoint = "/args.json"
	// ScifArgsMountPoint is the argument location SCIF-packaged images
	// expect
	ScifArgsMountPoint = "/scif/apps/src/jx-args.json"
)

// DrainWait bounds how long the supervisor waits for the stream
// consumers after the child has exited
var DrainWait = 20 * time.Second

// Mount is one extra bind mount for a container run
type Mount struct {
	Source string
	Target string
}

// RunSpec describes one container invocation
type RunSpec struct {
	// Image is the container image reference
	Image string
	// Command is the algorithm subcommand passed to the entrypoint
	Command string
	// InputFolder is the host folder mounted at /input
	InputFolder string
	// OutputFolder is the host folder mounted at /output
	OutputFolder string
	// ArgsPath is the host path of the argument JSON
	ArgsPath string
	// ExtraMounts are additional bind mounts
	ExtraMounts []Mount
}

// Runner executes a container to completion and reports its exit code.
// Stdout and stderr are appended line by line to msgFile and errFile.
type Runner interface {
	Run(ctx context.Context, spec RunSpec, msgFile, errFile string) (int, error)
}

// consumeStream reads lines from a child's pipe and appends them to a
// log file, flushing whenever the buffer fills. The returned channel
// closes once the stream is fully drained.
func consumeStream(reader io.Reader, filename string) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		var lines []string
		buffered := bufio.NewReader(reader)
		for {
			line, err := buffered.ReadString('\n')
			if line != "" {
				lines = append(lines, line)
				if len(lines) >= workfile.MaxCachedOutputLines {
					_, _ = workfile.WriteLines(filename, lines, true)
					lines = nil
				}
			}
			if err != nil {
				break
			}
		}

		if len(lines) > 0 {
			_, _ = workfile.WriteLines(filename, lines, true)
		}
	}()

	return done
}

// awaitConsumers waits for both stream consumers, giving up after
// DrainWait. Losing trailing output is logged but never alters the
// run's outcome.
func awaitConsumers(command string, msgDone, errDone <-chan struct{}) {
	logger := log.WithComponent("runner")

	deadline := time.After(DrainWait)
	var wg sync.WaitGroup
	drained := make(chan struct{})
	wg.Add(2)
	go func() {
		<-msgDone
		wg.Done()
	}()
	go func() {
		<-errDone
		wg.Done()
	}()
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-deadline:
		logger.Warn().Str("command", command).Msg("gave up waiting for output readers")
	}
}

// lineWriter adapts the line-consumer behaviour to an io.Writer for
// engines that push output instead of exposing a pipe
type lineWriter struct {
	filename string
	mu       sync.Mutex
	partial  []byte
	lines    []string
}

func newLineWriter(filename string) *lineWriter {
	return &lineWriter{filename: filename}
}

// Write implements io.Writer
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		idx := -1
		for i, b := range w.partial {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		w.lines = append(w.lines, string(w.partial[:idx+1]))
		w.partial = w.partial[idx+1:]
		if len(w.lines) >= workfile.MaxCachedOutputLines {
			w.flushLocked()
		}
	}

	return len(p), nil
}

// Close flushes any buffered output, including a trailing partial line
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.lines = append(w.lines, string(w.partial))
		w.partial = nil
	}
	w.flushLocked()
	return nil
}

func (w *lineWriter) flushLocked() {
	if len(w.lines) == 0 {
		return
	}
	_, _ = workfile.WriteLines(w.filename, w.lines, true)
	w.lines = nil
}
