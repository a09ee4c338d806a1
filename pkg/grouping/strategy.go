package grouping

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/ksql"
)

// GroupUnavailable is the registry value meaning "no group known for this
// asset". The controller maps it to a routing miss.
const GroupUnavailable = "UNAVAILABLE"

// Strategy assigns assets to logical groups and manages the derived
// per-group streams on the change-stream engine.
type Strategy interface {
	// GroupFor returns the group the asset currently belongs to, or ""
	// when the asset is not mapped to any group.
	GroupFor(ctx context.Context, assetUUID string) (string, error)

	// AllGroups returns a deduplicated snapshot of all known group names.
	AllGroups(ctx context.Context) ([]string, error)

	// AssetsIn returns a snapshot of the asset UUIDs belonging to a group.
	AssetsIn(ctx context.Context, group string) ([]string, error)

	// CreateDerivedStream ensures a filtered per-group stream exists on
	// the change-stream engine. Idempotent.
	CreateDerivedStream(ctx context.Context, group string) error

	// RemoveDerivedStream drops the group's stream and its backing topic.
	RemoveDerivedStream(ctx context.Context, group string) error

	// Ready reports whether the grouping backend is usable, with a
	// diagnostic message.
	Ready(ctx context.Context) (bool, string)
}

// StreamName is the derived stream name for a group.
func StreamName(group string) string {
	return "asset_stream_" + group
}

// TopicName is the Kafka topic backing a group's derived stream.
func TopicName(group string) string {
	return StreamName(group) + "_topic"
}

// Constructor builds a strategy from settings and a ksqlDB client.
type Constructor func(settings *config.Settings, client *ksql.Client) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a strategy constructor under a name. Called from package
// init functions; selection happens at startup via GROUPING_STRATEGY.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the strategy registered under the given name.
func New(name string, settings *config.Settings, client *ksql.Client) (Strategy, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown grouping strategy %q (registered: %v)", name, Names())
	}
	return ctor(settings, client)
}

// Names lists the registered strategy names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
