package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/openfactoryio/serving-layer/pkg/log"
)

// Environment names accepted for ENVIRONMENT. "local" keeps the routing
// front-end on the host and publishes group instance ports there.
const (
	EnvLocal      = "local"
	EnvDev        = "dev"
	EnvDevSwarm   = "devswarm"
	EnvProduction = "production"
)

// Queue-full policies for the per-subscriber fan-out queues.
const (
	QueuePolicyBlock = "block"
	QueuePolicyDrop  = "drop"
)

// KafkaConfig holds the upstream messaging settings for a group instance.
type KafkaConfig struct {
	Broker          string `env:"KAFKA_BROKER,default=localhost:9092"`
	Topic           string `env:"KAFKA_TOPIC,default=ofa_assets"`
	ConsumerGroupID string `env:"KAFKA_CONSUMER_GROUP_ID,default=ofa_openfactory-stream-api-non-replicated-sharedassets"`
}

// KSQLConfig holds the change-stream engine settings.
type KSQLConfig struct {
	URL          string `env:"KSQLDB_URL,default=http://localhost:8088"`
	AssetsStream string `env:"KSQLDB_ASSETS_STREAM,default=enriched_assets_stream"`
	AssetsTable  string `env:"KSQLDB_ASSETS_TABLE,default=assets"`
	UNSMap       string `env:"KSQLDB_UNS_MAP,default=asset_to_uns_map"`
}

// GroupServiceConfig describes the per-group stream-api instances.
type GroupServiceConfig struct {
	Image          string  `env:"FASTAPI_GROUP_IMAGE,default=ghcr.io/openfactoryio/stream-api-non-replicated:latest"`
	Replicas       int     `env:"FASTAPI_GROUP_REPLICAS,default=1"`
	CPULimit       float64 `env:"FASTAPI_GROUP_CPU_LIMIT,default=1"`
	CPUReservation float64 `env:"FASTAPI_GROUP_CPU_RESERVATION,default=0.5"`
	HostPortBase   int     `env:"FASTAPI_GROUP_PORT_BASE,default=6000"`
	GroupingLevel  string  `env:"UNS_FASTAPI_GROUP_GROUPING_LEVEL,default=workcenter"`
}

// RouterConfig describes the routing front-end deployment.
type RouterConfig struct {
	Image          string  `env:"ROUTING_LAYER_IMAGE,default=ghcr.io/openfactoryio/routing-layer:latest"`
	Replicas       int     `env:"ROUTING_LAYER_REPLICAS,default=1"`
	CPULimit       float64 `env:"ROUTING_LAYER_CPU_LIMIT,default=1"`
	CPUReservation float64 `env:"ROUTING_LAYER_CPU_RESERVATION,default=0.5"`
}

// StateAPIConfig describes the centralized state-query service deployment.
type StateAPIConfig struct {
	Image          string  `env:"STATE_API_IMAGE,default=ghcr.io/openfactoryio/state-api:latest"`
	Replicas       int     `env:"STATE_API_REPLICAS,default=1"`
	CPULimit       float64 `env:"STATE_API_CPU_LIMIT,default=0.5"`
	CPUReservation float64 `env:"STATE_API_CPU_RESERVATION,default=0.25"`
}

// Settings is the full serving-layer configuration, loaded from the
// environment. A .env file at the working directory is honoured for local
// development; unknown variables are ignored so one file can be shared
// across services.
type Settings struct {
	Kafka        KafkaConfig
	KSQL         KSQLConfig
	GroupService GroupServiceConfig
	Router       RouterConfig
	StateAPI     StateAPIConfig

	DockerNetwork      string `env:"DOCKER_NETWORK,default=factory-net"`
	SwarmNodeHost      string `env:"SWARM_NODE_HOST,default=localhost"`
	DeploymentPlatform string `env:"DEPLOYMENT_PLATFORM,default=swarm"`
	GroupingStrategy   string `env:"GROUPING_STRATEGY,default=workcenter"`

	Environment     string `env:"ENVIRONMENT,default=production"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
	QueueMaxSize    int    `env:"QUEUE_MAXSIZE,default=1000"`
	QueueFullPolicy string `env:"QUEUE_FULL_POLICY,default=block"`
}

// Load reads settings from the environment (and an optional .env file) and
// validates them. Invalid settings are a startup error.
func Load() (*Settings, error) {
	// Missing .env is fine; variables come from the real environment then.
	_ = godotenv.Load()

	var s Settings
	if err := envdecode.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks enum-valued settings.
func (s *Settings) Validate() error {
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		return err
	}

	switch s.Environment {
	case EnvLocal, EnvDev, EnvDevSwarm, EnvProduction:
	default:
		return fmt.Errorf("invalid environment %q (expected local, dev, devswarm or production)", s.Environment)
	}

	switch s.QueueFullPolicy {
	case QueuePolicyBlock, QueuePolicyDrop:
	default:
		return fmt.Errorf("invalid queue full policy %q (expected block or drop)", s.QueueFullPolicy)
	}

	if s.QueueMaxSize <= 0 {
		return fmt.Errorf("QUEUE_MAXSIZE must be positive, got %d", s.QueueMaxSize)
	}
	return nil
}

// IsLocal reports whether the serving layer runs in local mode, where the
// routing front-end stays on the host and group instances publish host ports.
func (s *Settings) IsLocal() bool {
	return s.Environment == EnvLocal
}
