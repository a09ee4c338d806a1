package platform

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/log"
)

func init() {
	Register("swarm", func(settings *config.Settings) (Platform, error) {
		return NewSwarmPlatform(settings), nil
	})
}

// swarmRouterName is the Swarm service name of the routing front-end.
const swarmRouterName = "serving_layer_router"

// swarmAPI is the Docker Engine client surface the Swarm platform uses.
type swarmAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	Info(ctx context.Context) (system.Info, error)
	ServiceCreate(ctx context.Context, service swarm.ServiceSpec, options types.ServiceCreateOptions) (swarm.ServiceCreateResponse, error)
	ServiceList(ctx context.Context, options types.ServiceListOptions) ([]swarm.Service, error)
	ServiceRemove(ctx context.Context, serviceID string) error
}

// SwarmPlatform deploys serving-layer instances as replicated Docker Swarm
// services on the cluster's overlay network.
type SwarmPlatform struct {
	settings *config.Settings
	cli      swarmAPI
}

// NewSwarmPlatform creates the platform. The Docker client is established
// in Initialize.
func NewSwarmPlatform(settings *config.Settings) *SwarmPlatform {
	return &SwarmPlatform{settings: settings}
}

// Initialize connects to the Docker Engine and verifies Swarm mode is
// active and this node is a manager.
func (p *SwarmPlatform) Initialize(ctx context.Context) error {
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

	info, err := p.cli.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify Swarm configuration during init: %w", err)
	}
	if info.Swarm.LocalNodeState != swarm.LocalNodeStateActive {
		return fmt.Errorf("Swarm is not active on this node (state: %s)", info.Swarm.LocalNodeState)
	}
	if !info.Swarm.ControlAvailable {
		return fmt.Errorf("Swarm manager required during init: this node is not a Swarm manager")
	}
	return nil
}

// DeployService creates the group's replicated Swarm service if absent.
func (p *SwarmPlatform) DeployService(ctx context.Context, group string) error {
	name := ServiceName(group)

	deployed, err := p.serviceExists(ctx, name)
	if err != nil {
		return err
	}
	if deployed {
		log.WithGroup(group).Info().Msg("Swarm service for group already running")
		return nil
	}

	log.WithGroup(group).Info().Str("image", p.settings.GroupService.Image).Msg("Deploying Swarm service for group")

	var endpoint *swarm.EndpointSpec
	if p.settings.IsLocal() {
		// Publish a deterministic host port so the front-end on the
		// host can reach the instance.
		endpoint = &swarm.EndpointSpec{
			Ports: []swarm.PortConfig{{
				Protocol:      swarm.PortConfigProtocolTCP,
				TargetPort:    ServicePort,
				PublishedPort: uint32(HostPort(p.settings.GroupService.HostPortBase, group)),
			}},
		}
	}

	env := []string{
		"KAFKA_BROKER=" + p.settings.Kafka.Broker,
		"KAFKA_TOPIC=asset_stream_" + group + "_topic",
		"KAFKA_CONSUMER_GROUP_ID=asset_stream_" + group + "_consumer_group",
		"DEPLOYMENT_PLATFORM=swarm",
	}

	spec := p.serviceSpec(name, p.settings.GroupService.Image, env,
		uint64(p.settings.GroupService.Replicas),
		p.settings.GroupService.CPULimit, p.settings.GroupService.CPUReservation,
		endpoint)

	if _, err := p.cli.ServiceCreate(ctx, spec, types.ServiceCreateOptions{}); err != nil {
		return fmt.Errorf("failed to create Swarm service for group %s: %w", group, err)
	}
	return nil
}

// RemoveService removes the group's Swarm service.
func (p *SwarmPlatform) RemoveService(ctx context.Context, group string) error {
	log.WithGroup(group).Info().Msg("Removing Swarm service for group")
	return p.removeService(ctx, ServiceName(group))
}

// DeployRouterAPI creates the routing front-end service.
func (p *SwarmPlatform) DeployRouterAPI(ctx context.Context) error {
	deployed, err := p.serviceExists(ctx, swarmRouterName)
	if err != nil {
		return err
	}
	if deployed {
		log.Info("Routing front-end already deployed on Swarm cluster")
		return nil
	}

	log.Info("Deploying routing front-end on Swarm cluster")

	env := []string{
		"KSQLDB_URL=" + p.settings.KSQL.URL,
		"KAFKA_BROKER=" + p.settings.Kafka.Broker,
		"KSQLDB_ASSETS_STREAM=" + p.settings.KSQL.AssetsStream,
		"KSQLDB_UNS_MAP=" + p.settings.KSQL.UNSMap,
		"LOG_LEVEL=" + p.settings.LogLevel,
		"ENVIRONMENT=production",
		"DEPLOYMENT_PLATFORM=swarm",
	}

	endpoint := &swarm.EndpointSpec{
		Ports: []swarm.PortConfig{{
			Protocol:      swarm.PortConfigProtocolTCP,
			TargetPort:    ServicePort,
			PublishedPort: ServicePort,
		}},
	}

	spec := p.serviceSpec(swarmRouterName, p.settings.Router.Image, env,
		uint64(p.settings.Router.Replicas),
		p.settings.Router.CPULimit, p.settings.Router.CPUReservation,
		endpoint)

	if _, err := p.cli.ServiceCreate(ctx, spec, types.ServiceCreateOptions{}); err != nil {
		return fmt.Errorf("failed to create routing front-end service: %w", err)
	}
	return nil
}

// RemoveRouterAPI removes the routing front-end service.
func (p *SwarmPlatform) RemoveRouterAPI(ctx context.Context) error {
	log.Info("Removing routing front-end from Swarm cluster")
	return p.removeService(ctx, swarmRouterName)
}

// DeployStateAPI creates the state-query service.
func (p *SwarmPlatform) DeployStateAPI(ctx context.Context) error {
	deployed, err := p.serviceExists(ctx, StateAPIName)
	if err != nil {
		return err
	}
	if deployed {
		log.Info("State API already deployed on Swarm cluster")
		return nil
	}

	log.Info("Deploying State API on Swarm cluster")

	env := []string{
		"KSQLDB_URL=" + p.settings.KSQL.URL,
		"KSQLDB_ASSETS_TABLE=" + p.settings.KSQL.AssetsTable,
		"LOG_LEVEL=" + p.settings.LogLevel,
		"DEPLOYMENT_PLATFORM=swarm",
	}

	spec := p.serviceSpec(StateAPIName, p.settings.StateAPI.Image, env,
		uint64(p.settings.StateAPI.Replicas),
		p.settings.StateAPI.CPULimit, p.settings.StateAPI.CPUReservation,
		nil)

	if _, err := p.cli.ServiceCreate(ctx, spec, types.ServiceCreateOptions{}); err != nil {
		return fmt.Errorf("failed to create State API service: %w", err)
	}
	return nil
}

// RemoveStateAPI removes the state-query service.
func (p *SwarmPlatform) RemoveStateAPI(ctx context.Context) error {
	log.Info("Removing State API from Swarm cluster")
	return p.removeService(ctx, StateAPIName)
}

// ServiceURL resolves the base URL of a group instance. In local mode the
// published host port on the Swarm node is used; otherwise in-cluster DNS.
func (p *SwarmPlatform) ServiceURL(group string) string {
	if p.settings.IsLocal() {
		return fmt.Sprintf("http://%s:%d", p.settings.SwarmNodeHost, HostPort(p.settings.GroupService.HostPortBase, group))
	}
	return fmt.Sprintf("http://%s:%d", ServiceName(group), ServicePort)
}

// StateAPIURL resolves the base URL of the state-query instance.
func (p *SwarmPlatform) StateAPIURL() string {
	return fmt.Sprintf("http://%s:%d", StateAPIName, ServicePort)
}

// ServiceReady probes the group instance's /ready endpoint.
func (p *SwarmPlatform) ServiceReady(ctx context.Context, group string) (bool, string) {
	return CheckReady(ctx, p.ServiceURL(group))
}

func (p *SwarmPlatform) serviceExists(ctx context.Context, name string) (bool, error) {
	services, err := p.cli.ServiceList(ctx, types.ServiceListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list Swarm services: %w", err)
	}
	return len(services) > 0, nil
}

func (p *SwarmPlatform) removeService(ctx context.Context, name string) error {
	if err := p.cli.ServiceRemove(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			log.Warn(fmt.Sprintf("Swarm service '%s' not deployed", name))
			return nil
		}
		return fmt.Errorf("failed to remove Swarm service %s: %w", name, err)
	}
	return nil
}

func (p *SwarmPlatform) serviceSpec(name, image string, env []string, replicas uint64, cpuLimit, cpuReservation float64, endpoint *swarm.EndpointSpec) swarm.ServiceSpec {
	return swarm.ServiceSpec{
		Annotations: swarm.Annotations{Name: name},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image: image,
				Env:   env,
			},
			Resources: &swarm.ResourceRequirements{
				Limits:       &swarm.Limit{NanoCPUs: int64(1e9 * cpuLimit)},
				Reservations: &swarm.Resources{NanoCPUs: int64(1e9 * cpuReservation)},
			},
			Networks: []swarm.NetworkAttachmentConfig{{Target: p.settings.DockerNetwork}},
		},
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &replicas},
		},
		EndpointSpec: endpoint,
	}
}
