package grouping

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/ksql"
	"github.com/openfactoryio/serving-layer/pkg/log"
)

func init() {
	Register("workcenter", func(settings *config.Settings, client *ksql.Client) (Strategy, error) {
		return NewUNSLevelStrategy(settings, client)
	})
}

// UNSLevelStrategy groups assets by a configured UNS level (workcenter,
// area, line, ...) using the asset-to-UNS mapping table on ksqlDB.
type UNSLevelStrategy struct {
	client       *ksql.Client
	level        string
	unsMap       string
	assetsStream string
}

// NewUNSLevelStrategy builds the strategy and verifies the grouping backend
// is reachable. A missing mapping table is a startup error.
func NewUNSLevelStrategy(settings *config.Settings, client *ksql.Client) (*UNSLevelStrategy, error) {
	s := &UNSLevelStrategy{
		client:       client,
		level:        ksql.EscapeLiteral(settings.GroupService.GroupingLevel),
		unsMap:       settings.KSQL.UNSMap,
		assetsStream: settings.KSQL.AssetsStream,
	}

	ready, reason := s.Ready(context.Background())
	if !ready {
		return nil, fmt.Errorf("UNS-level grouping strategy initialization failed: %s", reason)
	}
	return s, nil
}

// Ready verifies the UNS mapping table exists on the ksqlDB server.
func (s *UNSLevelStrategy) Ready(ctx context.Context) (bool, string) {
	tables, err := s.client.Tables(ctx)
	if err != nil {
		return false, fmt.Sprintf("ksqlDB connection failed: %v", err)
	}
	expected := strings.ToUpper(s.unsMap)
	for _, t := range tables {
		if strings.ToUpper(t) == expected {
			return true, "ok"
		}
	}
	return false, fmt.Sprintf("UNS mapping table '%s' not found in ksqlDB", s.unsMap)
}

// GroupFor looks up the configured UNS level of one asset.
func (s *UNSLevelStrategy) GroupFor(ctx context.Context, assetUUID string) (string, error) {
	query := fmt.Sprintf(
		"SELECT UNS_LEVELS['%s'] AS GROUPS FROM %s WHERE ASSET_UUID = '%s';",
		s.level, s.unsMap, ksql.EscapeLiteral(assetUUID),
	)
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to query group for asset %s: %w", assetUUID, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	group, _ := rows[0]["GROUPS"].(string)
	return group, nil
}

// AllGroups lists the distinct groups present in the UNS mapping table.
//
// Groups without assets do not appear; groups becoming populated after a
// deploy cycle have no derived stream until the next deploy.
func (s *UNSLevelStrategy) AllGroups(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT UNS_LEVELS['%s'] AS GROUPS FROM %s;",
		s.level, s.unsMap,
	)
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		log.WithComponent("grouping").Error().Err(err).Msg("Error querying all groups")
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}

	seen := make(map[string]bool)
	var groups []string
	for _, row := range rows {
		group, _ := row["GROUPS"].(string)
		if group == "" || seen[group] {
			continue
		}
		seen[group] = true
		groups = append(groups, group)
	}
	return groups, nil
}

// AssetsIn lists the asset UUIDs mapped to a group.
func (s *UNSLevelStrategy) AssetsIn(ctx context.Context, group string) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT ASSET_UUID FROM %s WHERE UNS_LEVELS['%s'] = '%s';",
		s.unsMap, s.level, ksql.EscapeLiteral(group),
	)
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets in group %s: %w", group, err)
	}

	seen := make(map[string]bool)
	var assets []string
	for _, row := range rows {
		uuid, _ := row["ASSET_UUID"].(string)
		if uuid == "" || seen[uuid] {
			continue
		}
		seen[uuid] = true
		assets = append(assets, uuid)
	}
	return assets, nil
}

// CreateDerivedStream creates the group's filtered stream joining the
// enriched asset stream with the UNS mapping table.
func (s *UNSLevelStrategy) CreateDerivedStream(ctx context.Context, group string) error {
	statement := fmt.Sprintf(
		`CREATE STREAM IF NOT EXISTS %s WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='JSON') AS `+
			`SELECT s.* FROM %s s JOIN %s h ON s.asset_uuid = h.asset_uuid `+
			`WHERE h.uns_levels['%s'] = '%s';`,
		StreamName(group), ksql.EscapeLiteral(TopicName(group)),
		s.assetsStream, s.unsMap,
		s.level, ksql.EscapeLiteral(group),
	)

	log.WithGroup(group).Info().Msg("Creating derived stream")
	log.WithGroup(group).Debug().Str("statement", statement).Msg("Derived stream DDL")

	if err := s.client.Statement(ctx, statement); err != nil {
		return fmt.Errorf("failed to create derived stream for group %s: %w", group, err)
	}
	return nil
}

// RemoveDerivedStream drops the group's stream together with its topic.
func (s *UNSLevelStrategy) RemoveDerivedStream(ctx context.Context, group string) error {
	statement := fmt.Sprintf("DROP STREAM %s DELETE TOPIC;", StreamName(group))
	log.WithGroup(group).Info().Str("statement", statement).Msg("Removing derived stream")

	if err := s.client.Statement(ctx, statement); err != nil {
		return fmt.Errorf("failed to remove derived stream for group %s: %w", group, err)
	}
	return nil
}
