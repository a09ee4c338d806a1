package platform

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/log"
)

func init() {
	Register("docker", func(settings *config.Settings) (Platform, error) {
		return NewDockerPlatform(settings), nil
	})
}

// dockerRouterName is the container name of the routing front-end.
const dockerRouterName = "serving-layer-router"

// dockerAPI is the Docker Engine client surface the platform uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerPlatform deploys serving-layer instances as plain Docker
// containers on a single host. Suitable for local development and
// environments where orchestration is handled externally.
type DockerPlatform struct {
	settings *config.Settings
	cli      dockerAPI
}

// NewDockerPlatform creates the platform. The Docker client is established
// in Initialize.
func NewDockerPlatform(settings *config.Settings) *DockerPlatform {
	return &DockerPlatform{settings: settings}
}

// Initialize connects to the Docker Engine and verifies it is reachable.
func (p *DockerPlatform) Initialize(ctx context.Context) error {
	if p.cli == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("failed to create Docker client: %w", err)
		}
		p.cli = cli
	}
	if _, err := p.cli.Ping(ctx); err != nil {
		return fmt.Errorf("Docker Engine unreachable during init: %w", err)
	}
	return nil
}

// DeployService launches the group's stream-api container unless a
// container of that name already exists (running or stopped).
func (p *DockerPlatform) DeployService(ctx context.Context, group string) error {
	name := ServiceName(group)

	if _, err := p.cli.ContainerInspect(ctx, name); err == nil {
		log.WithGroup(group).Info().Msg("Docker container for group already running")
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	log.WithGroup(group).Info().Str("image", p.settings.GroupService.Image).Msg("Starting Docker container for group")

	var portBindings nat.PortMap
	var exposed nat.PortSet
	if p.settings.IsLocal() {
		hostPort := HostPort(p.settings.GroupService.HostPortBase, group)
		exposed = nat.PortSet{servicePortTCP(): struct{}{}}
		portBindings = nat.PortMap{
			servicePortTCP(): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
		}
	}

	env := []string{
		"KAFKA_BROKER=" + p.settings.Kafka.Broker,
		"KAFKA_TOPIC=asset_stream_" + group + "_topic",
		"KAFKA_CONSUMER_GROUP_ID=asset_stream_" + group + "_consumer_group",
		"DEPLOYMENT_PLATFORM=docker",
	}

	return p.runContainer(ctx, name, &container.Config{
		Image:        p.settings.GroupService.Image,
		Env:          env,
		ExposedPorts: exposed,
	}, &container.HostConfig{
		NetworkMode:  container.NetworkMode(p.settings.DockerNetwork),
		PortBindings: portBindings,
		Resources:    cpuResources(p.settings.GroupService.CPULimit),
	})
}

// RemoveService stops and removes the group's container.
func (p *DockerPlatform) RemoveService(ctx context.Context, group string) error {
	log.WithGroup(group).Info().Msg("Removing Docker container for group")
	return p.removeContainer(ctx, ServiceName(group))
}

// DeployRouterAPI launches the routing front-end container.
func (p *DockerPlatform) DeployRouterAPI(ctx context.Context) error {
	if _, err := p.cli.ContainerInspect(ctx, dockerRouterName); err == nil {
		log.Info("Routing front-end already running")
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect container %s: %w", dockerRouterName, err)
	}

	log.Info("Deploying routing front-end")

	env := []string{
		"KSQLDB_URL=" + p.settings.KSQL.URL,
		"KAFKA_BROKER=" + p.settings.Kafka.Broker,
		"KSQLDB_ASSETS_STREAM=" + p.settings.KSQL.AssetsStream,
		"KSQLDB_UNS_MAP=" + p.settings.KSQL.UNSMap,
		"LOG_LEVEL=" + p.settings.LogLevel,
		"ENVIRONMENT=production",
		"DEPLOYMENT_PLATFORM=docker",
	}

	return p.runContainer(ctx, dockerRouterName, &container.Config{
		Image:        p.settings.Router.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{servicePortTCP(): struct{}{}},
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(p.settings.DockerNetwork),
		PortBindings: nat.PortMap{
			servicePortTCP(): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(ServicePort)}},
		},
		Resources: cpuResources(p.settings.Router.CPULimit),
	})
}

// RemoveRouterAPI removes the routing front-end container.
func (p *DockerPlatform) RemoveRouterAPI(ctx context.Context) error {
	log.Info("Removing routing front-end container")
	return p.removeContainer(ctx, dockerRouterName)
}

// DeployStateAPI launches the state-query container.
func (p *DockerPlatform) DeployStateAPI(ctx context.Context) error {
	if _, err := p.cli.ContainerInspect(ctx, StateAPIName); err == nil {
		log.Info("State API already running")
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect container %s: %w", StateAPIName, err)
	}

	log.Info("Deploying State API container")

	env := []string{
		"KSQLDB_URL=" + p.settings.KSQL.URL,
		"KSQLDB_ASSETS_TABLE=" + p.settings.KSQL.AssetsTable,
		"LOG_LEVEL=" + p.settings.LogLevel,
		"DEPLOYMENT_PLATFORM=docker",
	}

	var portBindings nat.PortMap
	var exposed nat.PortSet
	if p.settings.IsLocal() {
		exposed = nat.PortSet{servicePortTCP(): struct{}{}}
		portBindings = nat.PortMap{
			servicePortTCP(): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(StateAPILocalPort)}},
		}
	}

	return p.runContainer(ctx, StateAPIName, &container.Config{
		Image:        p.settings.StateAPI.Image,
		Env:          env,
		ExposedPorts: exposed,
	}, &container.HostConfig{
		NetworkMode:  container.NetworkMode(p.settings.DockerNetwork),
		PortBindings: portBindings,
		Resources:    cpuResources(p.settings.StateAPI.CPULimit),
	})
}

// RemoveStateAPI removes the state-query container.
func (p *DockerPlatform) RemoveStateAPI(ctx context.Context) error {
	log.Info("Removing State API container")
	return p.removeContainer(ctx, StateAPIName)
}

// ServiceURL resolves the base URL of a group instance.
func (p *DockerPlatform) ServiceURL(group string) string {
	if p.settings.IsLocal() {
		return fmt.Sprintf("http://localhost:%d", HostPort(p.settings.GroupService.HostPortBase, group))
	}
	return fmt.Sprintf("http://%s:%d", ServiceName(group), ServicePort)
}

// StateAPIURL resolves the base URL of the state-query instance.
func (p *DockerPlatform) StateAPIURL() string {
	if p.settings.IsLocal() {
		return fmt.Sprintf("http://localhost:%d", StateAPILocalPort)
	}
	return fmt.Sprintf("http://%s:%d", StateAPIName, ServicePort)
}

// ServiceReady probes the group instance's /ready endpoint.
func (p *DockerPlatform) ServiceReady(ctx context.Context, group string) (bool, string) {
	return CheckReady(ctx, p.ServiceURL(group))
}

func (p *DockerPlatform) runContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) error {
	created, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}
	if err := p.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

func (p *DockerPlatform) removeContainer(ctx context.Context, name string) error {
	if err := p.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			log.Warn(fmt.Sprintf("Container '%s' not found", name))
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	if err := p.cli.ContainerRemove(ctx, name, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

func cpuResources(limit float64) container.Resources {
	return container.Resources{
		CPUQuota:  int64(100000 * limit), // microseconds per 100ms period
		CPUPeriod: 100000,
	}
}

func servicePortTCP() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", ServicePort))
}
