package runner

import (
	"context"
	"fmt"
	"strconv"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/metrics"
)

const (
	// DefaultNamespace is the containerd namespace workflow steps run in
	DefaultNamespace = "atlana"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRunner executes steps directly against a containerd daemon
type ContainerdRunner struct {
	client         *containerd.Client
	namespace      string
	argsMountPoint string
}

// NewContainerdRunner connects to containerd at socketPath. When
// useScif is set the argument JSON is mounted where SCIF-packaged
// images look for it.
func NewContainerdRunner(socketPath string, useScif bool) (*ContainerdRunner, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	mountPoint := ArgsMountPoint
	if useScif {
		mountPoint = ScifArgsMountPoint
	}

	return &ContainerdRunner{
		client:         client,
		namespace:      DefaultNamespace,
		argsMountPoint: mountPoint,
	}, nil
}

// Close closes the containerd client connection
func (c *ContainerdRunner) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Run implements Runner
func (c *ContainerdRunner) Run(ctx context.Context, spec RunSpec, msgFile, errFile string) (int, error) {
	ctx = namespaces.WithNamespace(ctx, c.namespace)
	logger := log.WithComponent("runner")

	image, err := c.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = c.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return -1, fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
	}

	mounts := []specs.Mount{
		{Destination: InputMountPoint, Type: "bind", Source: spec.InputFolder, Options: []string{"rbind", "ro"}},
		{Destination: OutputMountPoint, Type: "bind", Source: spec.OutputFolder, Options: []string{"rbind", "rw"}},
		{Destination: c.argsMountPoint, Type: "bind", Source: spec.ArgsPath, Options: []string{"rbind", "ro"}},
	}
	for _, mount := range spec.ExtraMounts {
		mounts = append(mounts, specs.Mount{
			Destination: mount.Target,
			Type:        "bind",
			Source:      mount.Source,
			Options:     []string{"rbind", "ro"},
		})
	}

	containerID := "step-" + spec.Command + "-" + uuid.New().String()[:8]
	container, err := c.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs("run", spec.Command),
			oci.WithMounts(mounts),
		),
	)
	if err != nil {
		return -1, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		if err := container.Delete(context.WithoutCancel(ctx), containerd.WithSnapshotCleanup); err != nil {
			logger.Warn().Err(err).Str("container", containerID).Msg("failed to delete container")
		}
	}()

	msgWriter := newLineWriter(msgFile)
	errWriter := newLineWriter(errFile)

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, msgWriter, errWriter)))
	if err != nil {
		return -1, fmt.Errorf("failed to create task: %w", err)
	}
	defer func() {
		if _, err := task.Delete(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Str("container", containerID).Msg("failed to delete task")
		}
	}()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("failed to wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return -1, fmt.Errorf("failed to start task: %w", err)
	}

	status := <-statusC
	exitCode := int(status.ExitCode())

	_ = msgWriter.Close()
	_ = errWriter.Close()

	logger.Debug().Int("exit", exitCode).Str("command", spec.Command).Msg("container finished")
	metrics.ContainerRuns.WithLabelValues(strconv.Itoa(exitCode)).Inc()

	return exitCode, nil
}
