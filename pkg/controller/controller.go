package controller

import (
	"context"
	"fmt"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/grouping"
	"github.com/openfactoryio/serving-layer/pkg/ksql"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/platform"
)

// Controller composes a grouping strategy and a deployment platform. It
// owns the deploy/teardown lifecycle, resolves assets to group instance
// URLs and aggregates readiness.
type Controller struct {
	settings *config.Settings
	strategy grouping.Strategy
	platform platform.Platform
}

// New builds a controller with explicit collaborators.
func New(settings *config.Settings, strategy grouping.Strategy, plat platform.Platform) *Controller {
	return &Controller{
		settings: settings,
		strategy: strategy,
		platform: plat,
	}
}

// NewFromSettings selects the grouping strategy and deployment platform by
// name from the configuration. Unknown names are a startup error.
func NewFromSettings(settings *config.Settings) (*Controller, error) {
	client := ksql.NewClient(settings.KSQL.URL)

	strategy, err := grouping.New(settings.GroupingStrategy, settings, client)
	if err != nil {
		return nil, fmt.Errorf("failed to load grouping strategy: %w", err)
	}

	plat, err := platform.New(settings.DeploymentPlatform, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment platform: %w", err)
	}

	return New(settings, strategy, plat), nil
}

// Strategy exposes the grouping strategy.
func (c *Controller) Strategy() grouping.Strategy {
	return c.strategy
}

// Platform exposes the deployment platform.
func (c *Controller) Platform() platform.Platform {
	return c.platform
}

// StateAPIURL resolves the base URL of the state-query instance.
func (c *Controller) StateAPIURL() string {
	return c.platform.StateAPIURL()
}

// Deploy creates the derived stream and the serving instance for every
// known group, then the state API, and — outside local mode — the routing
// front-end itself. Idempotent.
func (c *Controller) Deploy(ctx context.Context) error {
	logger := log.WithComponent("controller")
	logger.Info().Msg("Initializing serving layer")

	if err := c.platform.Initialize(ctx); err != nil {
		return err
	}

	groups, err := c.strategy.AllGroups(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		logger.Warn().Msg("No groups to set up")
	}

	for _, group := range groups {
		logger.Info().Str("group", group).Msg("Spinning up group")
		if err := c.strategy.CreateDerivedStream(ctx, group); err != nil {
			return err
		}
		if err := c.platform.DeployService(ctx, group); err != nil {
			return err
		}
	}

	logger.Info().Msg("Spinning up State API")
	if err := c.platform.DeployStateAPI(ctx); err != nil {
		return err
	}

	if !c.settings.IsLocal() {
		if err := c.platform.DeployRouterAPI(ctx); err != nil {
			return err
		}
	}

	logger.Info().Msg("Serving layer deployment complete")
	return nil
}

// Teardown removes every group's derived stream and serving instance,
// then the state API and — outside local mode — the routing front-end.
// Symmetric reverse of Deploy; idempotent.
func (c *Controller) Teardown(ctx context.Context) error {
	logger := log.WithComponent("controller")
	logger.Info().Msg("Stopping serving layer")

	if err := c.platform.Initialize(ctx); err != nil {
		return err
	}

	groups, err := c.strategy.AllGroups(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		logger.Info().Str("group", group).Msg("Tearing down group")
		if err := c.strategy.RemoveDerivedStream(ctx, group); err != nil {
			logger.Error().Err(err).Str("group", group).Msg("Failed to remove derived stream")
		}
		if err := c.platform.RemoveService(ctx, group); err != nil {
			logger.Error().Err(err).Str("group", group).Msg("Failed to remove group service")
		}
	}

	logger.Info().Msg("Tearing down State API")
	if err := c.platform.RemoveStateAPI(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to remove State API")
	}

	if !c.settings.IsLocal() {
		if err := c.platform.RemoveRouterAPI(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to remove routing front-end")
		}
	}

	logger.Info().Msg("Serving layer removal complete")
	return nil
}

// Route resolves the asset to the base URL of its group instance. An
// unmapped asset (or the registry's UNAVAILABLE marker) resolves to "".
func (c *Controller) Route(ctx context.Context, assetUUID string) (string, error) {
	group, err := c.strategy.GroupFor(ctx, assetUUID)
	if err != nil {
		return "", err
	}
	if group == "" || group == grouping.GroupUnavailable {
		log.WithAsset(assetUUID).Warn().Msg("Could not determine group for asset")
		return "", nil
	}

	log.WithAsset(assetUUID).Debug().Str("group", group).Msg("Asset resolved to group")
	return c.platform.ServiceURL(group), nil
}

// Ready aggregates readiness over the grouping backend, every deployed
// group instance and the state API. Each failing component contributes one
// entry to the issues map.
func (c *Controller) Ready(ctx context.Context) (bool, map[string]string) {
	issues := make(map[string]string)

	groupingReady, msg := c.strategy.Ready(ctx)
	if !groupingReady {
		issues["grouping_strategy"] = msg
	}

	groups, err := c.strategy.AllGroups(ctx)
	if err != nil {
		issues["grouping_strategy"] = fmt.Sprintf("failed to enumerate groups: %v", err)
	}
	for _, group := range groups {
		if ready, msg := c.platform.ServiceReady(ctx, group); !ready {
			issues["service:"+group] = msg
		}
	}

	if ready, msg := platform.CheckReady(ctx, c.platform.StateAPIURL()); !ready {
		issues["state_api"] = msg
	}

	return len(issues) == 0, issues
}
