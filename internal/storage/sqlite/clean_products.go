package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ratecurve/cashpipe/internal/types"
)

// ReplaceCleanProducts swaps the canonical table contents for the new set.
// Callers wanting atomicity run this inside InTransaction; the delete and
// inserts then become visible together or not at all.
func (o *ops) ReplaceCleanProducts(ctx context.Context, products []*types.FinalProduct) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM available_products`); err != nil {
		return fmt.Errorf("failed to clear canonical table: %w", err)
	}

	const stmt = `INSERT INTO available_products (
		platform, source, method, bank_name, account_type,
		aer_rate, gross_rate, term_months, notice_period_days, min_deposit, max_deposit,
		fscs_protected, scraped_at, frn, frn_confidence, frn_status, frn_source,
		business_key, quality_score, duplicate_count, selection_reason,
		competing_ids, fscs_compliant, platform_category
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, p := range products {
		_, err := o.q.ExecContext(ctx, stmt,
			p.Platform, p.Source, p.Method, p.BankName, string(p.AccountType),
			nullFloat(p.AERRate), nullFloat(p.GrossRate), nullInt(p.TermMonths),
			nullInt(p.NoticePeriodDays), nullFloat(p.MinDeposit), nullFloat(p.MaxDeposit),
			boolToInt(p.FSCSProtected), p.ScrapedAt,
			p.FRN, p.FRNConfidence, string(p.FRNStatus), string(p.FRNSource),
			p.BusinessKey, p.QualityScore, p.DuplicateCount, p.SelectionReason,
			formatInt64JSON(p.CompetingProductIDs), boolToInt(p.FSCSCompliant),
			string(p.PlatformCategory),
		)
		if err != nil {
			return fmt.Errorf("failed to insert canonical product %q: %w", p.BankName, err)
		}
	}
	return nil
}

// LoadCleanProducts returns the canonical table.
func (o *ops) LoadCleanProducts(ctx context.Context) ([]*types.FinalProduct, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT
		platform, source, method, bank_name, account_type,
		aer_rate, gross_rate, term_months, notice_period_days, min_deposit, max_deposit,
		fscs_protected, scraped_at, frn, frn_confidence, frn_status, frn_source,
		business_key, quality_score, duplicate_count, selection_reason,
		competing_ids, fscs_compliant, platform_category
		FROM available_products ORDER BY business_key, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []*types.FinalProduct
	for rows.Next() {
		var p types.FinalProduct
		var accountType, frnStatus, frnSource, category, competing string
		var aer, gross, minDep, maxDep sql.NullFloat64
		var term, notice sql.NullInt64
		var fscs, compliant int
		var scrapedAt sql.NullTime

		err := rows.Scan(&p.Platform, &p.Source, &p.Method, &p.BankName, &accountType,
			&aer, &gross, &term, &notice, &minDep, &maxDep,
			&fscs, &scrapedAt, &p.FRN, &p.FRNConfidence, &frnStatus, &frnSource,
			&p.BusinessKey, &p.QualityScore, &p.DuplicateCount, &p.SelectionReason,
			&competing, &compliant, &category)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canonical product: %w", err)
		}
		p.AccountType = types.AccountType(accountType)
		p.AERRate = floatPtr(aer)
		p.GrossRate = floatPtr(gross)
		p.TermMonths = intPtr(term)
		p.NoticePeriodDays = intPtr(notice)
		p.MinDeposit = floatPtr(minDep)
		p.MaxDeposit = floatPtr(maxDep)
		p.FSCSProtected = fscs != 0
		if scrapedAt.Valid {
			p.ScrapedAt = scrapedAt.Time
		}
		p.FRNStatus = types.FRNStatus(frnStatus)
		p.FRNSource = types.FRNSource(frnSource)
		p.CompetingProductIDs = parseInt64JSON(competing)
		p.FSCSCompliant = compliant != 0
		p.PlatformCategory = types.PlatformCategory(category)
		products = append(products, &p)
	}
	return products, rows.Err()
}

// CountCleanProducts returns the canonical table size.
func (o *ops) CountCleanProducts(ctx context.Context) (int, error) {
	var n int
	err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM available_products`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count canonical products: %w", err)
	}
	return n, nil
}

// ArchiveCleanProducts copies current canonical rows into historical_products.
// Used by the fallback copy-through before it overwrites the canonical set.
func (o *ops) ArchiveCleanProducts(ctx context.Context) (int, error) {
	res, err := o.q.ExecContext(ctx, `INSERT INTO historical_products (
		platform, source, bank_name, account_type, aer_rate, term_months,
		notice_period_days, business_key, quality_score, selection_reason)
		SELECT platform, source, bank_name, account_type, aer_rate, term_months,
		notice_period_days, business_key, quality_score, selection_reason
		FROM available_products`)
	if err != nil {
		return 0, fmt.Errorf("failed to archive canonical products: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertFallbackProducts copies raw rows straight into the canonical table
// with a synthetic business key and a metadata marker. Degraded output beats
// no output when deduplication keeps failing.
func (o *ops) InsertFallbackProducts(ctx context.Context, products []*types.RawProduct) (int, error) {
	const stmt = `INSERT INTO available_products (
		platform, source, method, bank_name, account_type,
		aer_rate, gross_rate, term_months, notice_period_days, min_deposit, max_deposit,
		fscs_protected, scraped_at, frn, business_key, quality_score,
		selection_reason, platform_category, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'fallback_' || ?, 0, 'fallback_copy', 'aggregator', 'fallback=true')`

	inserted := 0
	for _, p := range products {
		_, err := o.q.ExecContext(ctx, stmt,
			p.Platform, p.Source, p.Method, p.BankName, string(p.AccountType),
			nullFloat(p.AERRate), nullFloat(p.GrossRate), nullInt(p.TermMonths),
			nullInt(p.NoticePeriodDays), nullFloat(p.MinDeposit), nullFloat(p.MaxDeposit),
			boolToInt(p.FSCSProtected), p.ScrapedAt, p.FRN, p.ID,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert fallback product %q: %w", p.BankName, err)
		}
		inserted++
	}
	return inserted, nil
}
