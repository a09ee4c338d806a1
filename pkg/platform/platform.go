package platform

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openfactoryio/serving-layer/pkg/config"
)

// ServicePort is the port every serving-layer container listens on.
const ServicePort = 5555

// StateAPILocalPort is the host port the state API publishes in local mode.
const StateAPILocalPort = 5556

// GroupServicePrefix prefixes every group instance name.
const GroupServicePrefix = "stream-api-group-"

// StateAPIName is the container/service name of the state-query instance.
const StateAPIName = "openfactory-state-api"

// readyProbeTimeout bounds the /ready probe of a deployed instance.
const readyProbeTimeout = 2 * time.Second

// Platform manages the lifecycle of the serving-layer instances on a
// concrete deployment backend. All operations are idempotent.
type Platform interface {
	// Initialize validates connectivity to the backend. It fails fatally
	// on misconfiguration and must be called before deploy or teardown.
	Initialize(ctx context.Context) error

	// DeployService / RemoveService manage the per-group instance.
	DeployService(ctx context.Context, group string) error
	RemoveService(ctx context.Context, group string) error

	// DeployRouterAPI / RemoveRouterAPI manage the routing front-end
	// itself (skipped in local mode, where it runs on the host).
	DeployRouterAPI(ctx context.Context) error
	RemoveRouterAPI(ctx context.Context) error

	// DeployStateAPI / RemoveStateAPI manage the central state-query
	// instance.
	DeployStateAPI(ctx context.Context) error
	RemoveStateAPI(ctx context.Context) error

	// ServiceURL resolves the base URL of a group instance.
	ServiceURL(group string) string

	// StateAPIURL resolves the base URL of the state-query instance.
	StateAPIURL() string

	// ServiceReady probes the group instance's /ready endpoint.
	ServiceReady(ctx context.Context, group string) (bool, string)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeGroupName lowercases a group name and collapses runs of
// non-alphanumerics to "-", stripping leading and trailing dashes, so the
// result is safe as a DNS-style instance name component.
func SanitizeGroupName(group string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(group), "-"), "-")
}

// ServiceName is the instance name of a group's stream-api.
func ServiceName(group string) string {
	return GroupServicePrefix + SanitizeGroupName(group)
}

// HostPort computes the host port a group instance publishes in local mode.
// The md5-based offset is deterministic per group name and spreads groups
// over 1000 ports above the base.
func HostPort(base int, group string) int {
	sum := md5.Sum([]byte(group))
	mod := 0
	for _, b := range sum {
		mod = (mod*256 + int(b)) % 1000
	}
	return base + mod
}

// readyResponse is the readiness payload of serving-layer instances. The
// issues field is a map on the router and a plain string on group
// instances, so it is decoded lazily.
type readyResponse struct {
	Status string          `json:"status"`
	Issues json.RawMessage `json:"issues"`
}

// CheckReady probes an instance's /ready endpoint and summarizes the
// outcome. Shared by all platform implementations.
func CheckReady(ctx context.Context, baseURL string) (bool, string) {
	url := strings.TrimRight(baseURL, "/") + "/ready"

	probeCtx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("failed to build readiness request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("service is not reachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, "service does not expose a /ready endpoint (404 Not Found)"
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("received status code %d", resp.StatusCode)
	}

	var ready readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return false, fmt.Sprintf("invalid readiness response: %v", err)
	}
	if ready.Status == "ready" {
		return true, "service is ready"
	}
	return false, fmt.Sprintf("service readiness check failed: %s", formatIssues(ready.Issues))
}

func formatIssues(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown issues"
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil && len(asMap) > 0 {
		parts := make([]string, 0, len(asMap))
		for k, v := range asMap {
			parts = append(parts, k+": "+v)
		}
		sort.Strings(parts)
		return strings.Join(parts, "; ")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return asString
	}
	return "unknown issues"
}

// Constructor builds a platform from settings.
type Constructor func(settings *config.Settings) (Platform, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a platform constructor under a name. Selection happens at
// startup via DEPLOYMENT_PLATFORM.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the platform registered under the given name.
func New(name string, settings *config.Settings) (Platform, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown deployment platform %q (registered: %v)", name, Names())
	}
	return ctor(settings)
}

// Names lists the registered platform names.
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
