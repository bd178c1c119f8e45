package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

func (o *ops) loadFRNSource(ctx context.Context, query string) ([]storage.FRNSourceRow, error) {
	rows, err := o.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query FRN source table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.FRNSourceRow
	for rows.Next() {
		var r storage.FRNSourceRow
		if err := rows.Scan(&r.FRN, &r.Name, &r.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan FRN source row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadManualOverrides returns operator-curated FRN assignments.
func (o *ops) LoadManualOverrides(ctx context.Context) ([]storage.FRNSourceRow, error) {
	return o.loadFRNSource(ctx, `SELECT frn, bank_name, confidence FROM frn_manual_overrides`)
}

// LoadInstitutions returns the regulator institution register.
func (o *ops) LoadInstitutions(ctx context.Context) ([]storage.FRNSourceRow, error) {
	return o.loadFRNSource(ctx, `SELECT frn, firm_name, 1.0 FROM boe_institutions`)
}

// LoadSharedBrands returns brands trading under another firm's FRN.
func (o *ops) LoadSharedBrands(ctx context.Context) ([]storage.FRNSourceRow, error) {
	return o.loadFRNSource(ctx, `SELECT frn, brand_name, 0.9 FROM boe_shared_brands`)
}

// AddManualOverride upserts an operator FRN assignment. The caller must
// rebuild the lookup cache afterwards so the override takes effect.
func (o *ops) AddManualOverride(ctx context.Context, bankName, frn string, confidence float64) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO frn_manual_overrides (bank_name, frn, confidence) VALUES (?, ?, ?)
		 ON CONFLICT(bank_name) DO UPDATE SET frn = excluded.frn, confidence = excluded.confidence`,
		bankName, frn, confidence)
	if err != nil {
		return fmt.Errorf("failed to add manual override %q: %w", bankName, err)
	}
	return nil
}

// ReplaceLookupCache rebuilds the derived cache wholesale, then runs the
// match_rank post-pass: the top-priority entry per search_name gets rank 1.
func (o *ops) ReplaceLookupCache(ctx context.Context, entries []*types.FRNLookupEntry) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM frn_lookup_helper_cache`); err != nil {
		return fmt.Errorf("failed to clear lookup cache: %w", err)
	}

	const stmt = `INSERT INTO frn_lookup_helper_cache
		(search_name, frn, canonical_name, match_type, confidence_score, priority_rank, source_table)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, e := range entries {
		_, err := o.q.ExecContext(ctx, stmt,
			e.SearchName, e.FRN, e.CanonicalName, e.MatchType,
			e.ConfidenceScore, e.PriorityRank, e.SourceTable)
		if err != nil {
			return fmt.Errorf("failed to insert lookup entry %q: %w", e.SearchName, err)
		}
	}

	_, err := o.q.ExecContext(ctx, `
		UPDATE frn_lookup_helper_cache SET match_rank = (
			SELECT COUNT(*) + 1 FROM frn_lookup_helper_cache AS other
			WHERE other.search_name = frn_lookup_helper_cache.search_name
			  AND (other.priority_rank < frn_lookup_helper_cache.priority_rank
			       OR (other.priority_rank = frn_lookup_helper_cache.priority_rank
			           AND other.id < frn_lookup_helper_cache.id))
		)`)
	if err != nil {
		return fmt.Errorf("failed to assign match ranks: %w", err)
	}
	return nil
}

func scanLookupEntry(rows *sql.Rows) (*types.FRNLookupEntry, error) {
	var e types.FRNLookupEntry
	err := rows.Scan(&e.SearchName, &e.FRN, &e.CanonicalName, &e.MatchType,
		&e.ConfidenceScore, &e.PriorityRank, &e.MatchRank, &e.SourceTable)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const lookupColumns = `search_name, frn, canonical_name, match_type,
	confidence_score, priority_rank, match_rank, source_table`

// LookupExact finds the rank-1 cache entry for a normalized search name.
func (o *ops) LookupExact(ctx context.Context, searchName string) (*types.FRNLookupEntry, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+lookupColumns+` FROM frn_lookup_helper_cache
		 WHERE search_name = ? COLLATE NOCASE AND match_rank = 1`, searchName)

	var e types.FRNLookupEntry
	err := row.Scan(&e.SearchName, &e.FRN, &e.CanonicalName, &e.MatchType,
		&e.ConfidenceScore, &e.PriorityRank, &e.MatchRank, &e.SourceTable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %q: %w", searchName, err)
	}
	return &e, nil
}

func (o *ops) loadLookupEntries(ctx context.Context, where string) ([]*types.FRNLookupEntry, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT `+lookupColumns+` FROM frn_lookup_helper_cache `+where)
	if err != nil {
		return nil, fmt.Errorf("failed to query lookup cache: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.FRNLookupEntry
	for rows.Next() {
		e, err := scanLookupEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lookup entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadRankOneEntries returns the winning cache entry per search name, the
// candidate set for the fuzzy path.
func (o *ops) LoadRankOneEntries(ctx context.Context) ([]*types.FRNLookupEntry, error) {
	return o.loadLookupEntries(ctx, `WHERE match_rank = 1`)
}

// LoadAliasEntries returns shared-brand and name-variation entries for the
// substring alias path.
func (o *ops) LoadAliasEntries(ctx context.Context) ([]*types.FRNLookupEntry, error) {
	return o.loadLookupEntries(ctx, `WHERE match_type IN ('shared_brand', 'name_variation')`)
}

// ResearchQueueSize returns the current queue depth.
func (o *ops) ResearchQueueSize(ctx context.Context) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM frn_research_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count research queue: %w", err)
	}
	return n, nil
}

// IsQueuedForResearch reports whether a bank name is already queued.
func (o *ops) IsQueuedForResearch(ctx context.Context, bankName string) (bool, error) {
	var n int
	err := o.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM frn_research_queue WHERE bank_name = ?`, bankName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check research queue: %w", err)
	}
	return n > 0, nil
}

// EnqueueResearch appends an unknown bank name. Duplicate names are ignored
// so repeated runs do not churn the queue.
func (o *ops) EnqueueResearch(ctx context.Context, entry *types.ResearchQueueEntry) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO frn_research_queue (bank_name, platform, source, first_seen)
		 VALUES (?, ?, ?, ?)`,
		entry.BankName, entry.Platform, entry.Source, entry.FirstSeen)
	if err != nil {
		return fmt.Errorf("failed to enqueue research entry %q: %w", entry.BankName, err)
	}
	return nil
}

// ListResearchQueue returns queued names oldest-first.
func (o *ops) ListResearchQueue(ctx context.Context) ([]*types.ResearchQueueEntry, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT bank_name, platform, source, first_seen FROM frn_research_queue ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("failed to list research queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ResearchQueueEntry
	for rows.Next() {
		var e types.ResearchQueueEntry
		if err := rows.Scan(&e.BankName, &e.Platform, &e.Source, &e.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan research entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
