package sqlite

import (
	"context"
	"fmt"

	"github.com/ratecurve/cashpipe/internal/storage"
)

// GetConfigCategory returns all active config rows of one category.
func (o *ops) GetConfigCategory(ctx context.Context, category string) ([]storage.ConfigRow, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT category, config_key, config_value, config_type, is_active
		 FROM unified_config WHERE category = ? AND is_active = 1`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query config category %s: %w", category, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.ConfigRow
	for rows.Next() {
		var r storage.ConfigRow
		var active int
		if err := rows.Scan(&r.Category, &r.Key, &r.Value, &r.ValueType, &active); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		r.IsActive = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetConfigValue upserts a config entry.
func (o *ops) SetConfigValue(ctx context.Context, category, key, value, valueType string) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO unified_config (category, config_key, config_value, config_type, is_active, updated_at)
		 VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT(category, config_key) DO UPDATE SET
		   config_value = excluded.config_value,
		   config_type = excluded.config_type,
		   is_active = 1,
		   updated_at = CURRENT_TIMESTAMP`,
		category, key, value, valueType)
	if err != nil {
		return fmt.Errorf("failed to set config %s.%s: %w", category, key, err)
	}
	return nil
}

// ListConfig returns config rows, all categories when category is empty.
func (o *ops) ListConfig(ctx context.Context, category string) ([]storage.ConfigRow, error) {
	query := `SELECT category, config_key, config_value, config_type, is_active
		FROM unified_config`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, config_key`

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.ConfigRow
	for rows.Next() {
		var r storage.ConfigRow
		var active int
		if err := rows.Scan(&r.Category, &r.Key, &r.Value, &r.ValueType, &active); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		r.IsActive = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadBusinessRules returns enabled rules of a category ordered by priority.
// Priority order is stable so equal-priority rules keep insertion order.
func (o *ops) LoadBusinessRules(ctx context.Context, category string) ([]storage.RuleRow, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, rule_category, rule_name, conditions_json, event_type, event_params_json, priority, enabled
		 FROM unified_business_rules
		 WHERE rule_category = ? AND enabled = 1
		 ORDER BY priority, id`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query business rules %s: %w", category, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.RuleRow
	for rows.Next() {
		var r storage.RuleRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.Category, &r.Name, &r.ConditionsJSON,
			&r.EventType, &r.EventParamsJSON, &r.Priority, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertBusinessRule adds a declarative rule (used by the seed loader).
func (o *ops) InsertBusinessRule(ctx context.Context, rule storage.RuleRow) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO unified_business_rules
		 (rule_category, rule_name, conditions_json, event_type, event_params_json, priority, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.Category, rule.Name, rule.ConditionsJSON, rule.EventType,
		rule.EventParamsJSON, rule.Priority, boolToInt(rule.Enabled))
	if err != nil {
		return fmt.Errorf("failed to insert business rule %q: %w", rule.Name, err)
	}
	return nil
}

// LoadPlatforms returns the platform reference table.
func (o *ops) LoadPlatforms(ctx context.Context) ([]storage.PlatformRow, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT platform, display_name, priority, category, is_preferred, rate_tolerance, reliability
		 FROM platforms ORDER BY priority DESC, platform`)
	if err != nil {
		return nil, fmt.Errorf("failed to query platforms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.PlatformRow
	for rows.Next() {
		var p storage.PlatformRow
		var preferred int
		if err := rows.Scan(&p.Platform, &p.DisplayName, &p.Priority, &p.Category,
			&preferred, &p.RateTolerance, &p.Reliability); err != nil {
			return nil, fmt.Errorf("failed to scan platform row: %w", err)
		}
		p.IsPreferred = preferred != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadScrapers returns the scraper reliability table.
func (o *ops) LoadScrapers(ctx context.Context) ([]storage.ScraperRow, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT source, reliability FROM scrapers ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrapers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.ScraperRow
	for rows.Next() {
		var s storage.ScraperRow
		if err := rows.Scan(&s.Source, &s.Reliability); err != nil {
			return nil, fmt.Errorf("failed to scan scraper row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertPlatform writes a platform reference row.
func (o *ops) UpsertPlatform(ctx context.Context, p storage.PlatformRow) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO platforms (platform, display_name, priority, category, is_preferred, rate_tolerance, reliability)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform) DO UPDATE SET
		   display_name = excluded.display_name,
		   priority = excluded.priority,
		   category = excluded.category,
		   is_preferred = excluded.is_preferred,
		   rate_tolerance = excluded.rate_tolerance,
		   reliability = excluded.reliability`,
		p.Platform, p.DisplayName, p.Priority, p.Category,
		boolToInt(p.IsPreferred), p.RateTolerance, p.Reliability)
	if err != nil {
		return fmt.Errorf("failed to upsert platform %q: %w", p.Platform, err)
	}
	return nil
}

// UpsertScraper writes a scraper reliability row.
func (o *ops) UpsertScraper(ctx context.Context, s storage.ScraperRow) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO scrapers (source, reliability) VALUES (?, ?)
		 ON CONFLICT(source) DO UPDATE SET reliability = excluded.reliability`,
		s.Source, s.Reliability)
	if err != nil {
		return fmt.Errorf("failed to upsert scraper %q: %w", s.Source, err)
	}
	return nil
}
