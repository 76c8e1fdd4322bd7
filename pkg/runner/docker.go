package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/metrics"
)

// DockerRunner executes steps through the docker CLI
type DockerRunner struct {
	engine         string
	argsMountPoint string
}

// NewDockerRunner creates a docker-CLI engine. When useScif is set the
// argument JSON is mounted where SCIF-packaged images look for it.
func NewDockerRunner(useScif bool) *DockerRunner {
	mountPoint := ArgsMountPoint
	if useScif {
		mountPoint = ScifArgsMountPoint
	}
	return &DockerRunner{engine: "docker", argsMountPoint: mountPoint}
}

// Run implements Runner
func (d *DockerRunner) Run(ctx context.Context, spec RunSpec, msgFile, errFile string) (int, error) {
	logger := log.WithComponent("runner")

	args := d.commandArgs(spec)
	logger.Debug().Strs("args", args).Msg("running container command")

	cmd := exec.CommandContext(ctx, d.engine, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start container command: %w", err)
	}

	msgDone := consumeStream(stdout, msgFile)
	errDone := consumeStream(stderr, errFile)

	// Wait closes the pipe read ends once the child exits; both
	// consumers must reach EOF before that or trailing output is lost
	awaitConsumers(spec.Command, msgDone, errDone)

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return -1, fmt.Errorf("container command failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	logger.Debug().Int("exit", exitCode).Str("command", spec.Command).Msg("container finished")
	metrics.ContainerRuns.WithLabelValues(strconv.Itoa(exitCode)).Inc()

	return exitCode, nil
}

// commandArgs builds the docker CLI argument list for a run
func (d *DockerRunner) commandArgs(spec RunSpec) []string {
	args := []string{
		"run",
		"--rm",
		"-v", spec.InputFolder + ":" + InputMountPoint,
		"-v", spec.OutputFolder + ":" + OutputMountPoint,
		"-v", spec.ArgsPath + ":" + d.argsMountPoint,
	}

	for _, mount := range spec.ExtraMounts {
		args = append(args, "-v", mount.Source+":"+mount.Target)
	}

	return append(args, spec.Image, "run", spec.Command)
}
