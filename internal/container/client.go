package container

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/radutopala/llmdeploy/internal/container/image"
)

// LabelKey marks containers started by llmdeploy.
const LabelKey = "app"

// LabelValue is the value of LabelKey on llmdeploy containers.
const LabelValue = "llmdeploy"

// dockerAPI abstracts the Docker SDK methods used by Client, enabling unit testing.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, container string, options containertypes.StartOptions) error
	ContainerRemove(ctx context.Context, container string, options containertypes.RemoveOptions) error
	ContainerList(ctx context.Context, options containertypes.ListOptions) ([]containertypes.Summary, error)
	ImageList(ctx context.Context, options imagetypes.ListOptions) ([]imagetypes.Summary, error)
	Close() error
}

// newDockerClientFunc is the constructor used to create the underlying Docker API client.
// It can be overridden in tests.
var newDockerClientFunc = func() (dockerAPI, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// RunConfig describes a service container.
type RunConfig struct {
	Image    string
	Name     string
	HostPort int
	Env      []string
	Binds    []string
}

// Client builds and runs the service image by delegating to the Docker SDK.
type Client struct {
	api dockerAPI
}

// NewClient creates a new Client backed by the Docker SDK.
func NewClient() (*Client, error) {
	api, err := newDockerClientFunc()
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// Close releases the underlying Docker client resources.
func (c *Client) Close() error {
	return c.api.Close()
}

// Run creates and starts a service container as the non-root user, with
// the service port published on all host interfaces. It returns the
// container ID.
func (c *Client) Run(ctx context.Context, cfg RunConfig) (string, error) {
	if cfg.Image == "" {
		return "", fmt.Errorf("image is required")
	}
	if cfg.HostPort < 1 || cfg.HostPort > 65535 {
		return "", fmt.Errorf("invalid host port %d", cfg.HostPort)
	}

	port, err := nat.NewPort("tcp", strconv.Itoa(image.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("building container port: %w", err)
	}

	containerCfg := &containertypes.Config{
		Image:        cfg.Image,
		User:         strconv.Itoa(image.ContainerUID),
		Env:          cfg.Env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{LabelKey: LabelValue},
	}

	hostCfg := &containertypes.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(cfg.HostPort)}},
		},
		Binds:         cfg.Binds,
		RestartPolicy: containertypes.RestartPolicy{Name: containertypes.RestartPolicyUnlessStopped},
	}

	resp, err := c.api.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := c.api.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		_ = c.api.ContainerRemove(context.WithoutCancel(ctx), resp.ID, containertypes.RemoveOptions{Force: true})
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

// Remove forcefully removes the specified container.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	return c.api.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{Force: true})
}

// ImageList returns the IDs of images matching the given reference.
func (c *Client) ImageList(ctx context.Context, imageName string) ([]string, error) {
	f := filters.NewArgs()
	f.Add("reference", imageName)

	images, err := c.api.ImageList(ctx, imagetypes.ListOptions{Filters: f})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids, nil
}

// dockerBuildCmd executes `docker build` via the CLI. Using the CLI instead of
// the Docker SDK avoids "configured logging driver does not support reading"
// errors because the CLI uses BuildKit by default.
var dockerBuildCmd = func(ctx context.Context, contextDir, dockerfile, tag string) ([]byte, error) {
	return exec.CommandContext(ctx, "docker", "build", "-f", dockerfile, "-t", tag, contextDir).CombinedOutput()
}

// ImageBuild builds an image from contextDir using the given Dockerfile path.
func (c *Client) ImageBuild(ctx context.Context, contextDir, dockerfile, tag string) error {
	output, err := dockerBuildCmd(ctx, contextDir, dockerfile, tag)
	if err != nil {
		return fmt.Errorf("building image: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// List returns the IDs of containers, running or not, matching the given label.
func (c *Client) List(ctx context.Context, labelKey, labelValue string) ([]string, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", labelKey, labelValue))

	containers, err := c.api.ContainerList(ctx, containertypes.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(containers))
	for _, ctr := range containers {
		ids = append(ids, ctr.ID)
	}
	return ids, nil
}
