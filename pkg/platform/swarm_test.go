package platform

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/api/types/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfactoryio/serving-layer/pkg/config"
)

// fakeSwarmAPI records service operations and simulates cluster state.
type fakeSwarmAPI struct {
	info     system.Info
	services map[string]swarm.ServiceSpec
	removed  []string
}

func newFakeSwarmAPI() *fakeSwarmAPI {
	return &fakeSwarmAPI{
		info: system.Info{Swarm: swarm.Info{
			LocalNodeState:   swarm.LocalNodeStateActive,
			ControlAvailable: true,
		}},
		services: make(map[string]swarm.ServiceSpec),
	}
}

func (f *fakeSwarmAPI) Ping(ctx context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeSwarmAPI) Info(ctx context.Context) (system.Info, error) { return f.info, nil }

func (f *fakeSwarmAPI) ServiceCreate(ctx context.Context, spec swarm.ServiceSpec, opts types.ServiceCreateOptions) (swarm.ServiceCreateResponse, error) {
	f.services[spec.Name] = spec
	return swarm.ServiceCreateResponse{ID: spec.Name}, nil
}

func (f *fakeSwarmAPI) ServiceList(ctx context.Context, opts types.ServiceListOptions) ([]swarm.Service, error) {
	name := opts.Filters.Get("name")
	var out []swarm.Service
	for n, spec := range f.services {
		if len(name) == 0 || name[0] == n {
			out = append(out, swarm.Service{Spec: spec})
		}
	}
	return out, nil
}

func (f *fakeSwarmAPI) ServiceRemove(ctx context.Context, id string) error {
	if _, ok := f.services[id]; !ok {
		return notFoundErr{}
	}
	delete(f.services, id)
	f.removed = append(f.removed, id)
	return nil
}

func swarmSettings() *config.Settings {
	s := dockerSettings()
	s.DeploymentPlatform = "swarm"
	s.Environment = config.EnvProduction
	s.SwarmNodeHost = "swarm-node"
	s.GroupService.Replicas = 2
	s.GroupService.CPUReservation = 0.5
	s.Router.Replicas = 1
	s.StateAPI.Replicas = 1
	return s
}

func TestSwarmInitialize_RejectsInactiveSwarm(t *testing.T) {
	fake := newFakeSwarmAPI()
	fake.info.Swarm.LocalNodeState = swarm.LocalNodeStateInactive

	p := &SwarmPlatform{settings: swarmSettings(), cli: fake}
	err := p.Initialize(context.Background())
	assert.ErrorContains(t, err, "Swarm is not active")
}

func TestSwarmInitialize_RejectsWorkerNode(t *testing.T) {
	fake := newFakeSwarmAPI()
	fake.info.Swarm.ControlAvailable = false

	p := &SwarmPlatform{settings: swarmSettings(), cli: fake}
	err := p.Initialize(context.Background())
	assert.ErrorContains(t, err, "not a Swarm manager")
}

func TestSwarmDeployService(t *testing.T) {
	fake := newFakeSwarmAPI()
	p := &SwarmPlatform{settings: swarmSettings(), cli: fake}

	require.NoError(t, p.DeployService(context.Background(), "wc1"))
	spec, ok := fake.services["stream-api-group-wc1"]
	require.True(t, ok)

	assert.Equal(t, "stream-api:test", spec.TaskTemplate.ContainerSpec.Image)
	assert.Contains(t, spec.TaskTemplate.ContainerSpec.Env, "KAFKA_TOPIC=asset_stream_wc1_topic")
	assert.Contains(t, spec.TaskTemplate.ContainerSpec.Env, "DEPLOYMENT_PLATFORM=swarm")
	assert.Equal(t, int64(1e9), spec.TaskTemplate.Resources.Limits.NanoCPUs)
	assert.Equal(t, uint64(2), *spec.Mode.Replicated.Replicas)

	// No published port outside local mode.
	assert.Nil(t, spec.EndpointSpec)
}

func TestSwarmDeployService_LocalPublishesHostPort(t *testing.T) {
	s := swarmSettings()
	s.Environment = config.EnvLocal
	fake := newFakeSwarmAPI()
	p := &SwarmPlatform{settings: s, cli: fake}

	require.NoError(t, p.DeployService(context.Background(), "wc1"))
	spec := fake.services["stream-api-group-wc1"]
	require.NotNil(t, spec.EndpointSpec)
	require.Len(t, spec.EndpointSpec.Ports, 1)
	assert.Equal(t, uint32(ServicePort), spec.EndpointSpec.Ports[0].TargetPort)
	assert.Equal(t, uint32(HostPort(6000, "wc1")), spec.EndpointSpec.Ports[0].PublishedPort)
}

func TestSwarmDeployService_Idempotent(t *testing.T) {
	fake := newFakeSwarmAPI()
	p := &SwarmPlatform{settings: swarmSettings(), cli: fake}

	require.NoError(t, p.DeployService(context.Background(), "wc1"))
	require.NoError(t, p.DeployService(context.Background(), "wc1"))
	assert.Len(t, fake.services, 1)
}

func TestSwarmRemoveService_MissingIsNotAnError(t *testing.T) {
	fake := newFakeSwarmAPI()
	p := &SwarmPlatform{settings: swarmSettings(), cli: fake}

	require.NoError(t, p.RemoveService(context.Background(), "wc1"))
	assert.Empty(t, fake.removed)
}

func TestSwarmServiceURL(t *testing.T) {
	s := swarmSettings()
	p := &SwarmPlatform{settings: s}

	assert.Equal(t, "http://stream-api-group-wc1:5555", p.ServiceURL("wc1"))
	assert.Equal(t, "http://openfactory-state-api:5555", p.StateAPIURL())

	s.Environment = config.EnvLocal
	assert.Contains(t, p.ServiceURL("wc1"), "http://swarm-node:")
}

func TestSwarmRouterAPI_DeployAndRemove(t *testing.T) {
	fake := newFakeSwarmAPI()
	p := &SwarmPlatform{settings: swarmSettings(), cli: fake}

	require.NoError(t, p.DeployRouterAPI(context.Background()))
	spec, ok := fake.services[swarmRouterName]
	require.True(t, ok)
	require.NotNil(t, spec.EndpointSpec)
	assert.Equal(t, uint32(ServicePort), spec.EndpointSpec.Ports[0].PublishedPort)

	require.NoError(t, p.RemoveRouterAPI(context.Background()))
	assert.NotContains(t, fake.services, swarmRouterName)
}
