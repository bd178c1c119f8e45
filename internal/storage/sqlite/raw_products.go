package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ratecurve/cashpipe/internal/types"
)

const rawColumns = `id, platform, source, method, bank_name, account_type,
	aer_rate, gross_rate, term_months, notice_period_days, min_deposit, max_deposit,
	interest_payment_frequency, apply_by_date, special_features, fscs_protected,
	scraped_at, frn, bank_name_normalized, confidence_score, business_key, processed_at`

// ClearOrigin deletes raw rows of one exact (source, method) pair. The raw
// table is never cleared globally.
func (o *ops) ClearOrigin(ctx context.Context, source, method string) error {
	_, err := o.q.ExecContext(ctx,
		`DELETE FROM available_products_raw WHERE source = ? AND method = ?`, source, method)
	if err != nil {
		return fmt.Errorf("failed to clear origin %s/%s: %w", source, method, err)
	}
	return nil
}

// InsertRawProducts bulk inserts landed products, preserving submission order
// through AUTOINCREMENT ids.
func (o *ops) InsertRawProducts(ctx context.Context, products []*types.RawProduct) error {
	if len(products) == 0 {
		return nil
	}
	const stmt = `INSERT INTO available_products_raw (
		platform, source, method, bank_name, account_type,
		aer_rate, gross_rate, term_months, notice_period_days, min_deposit, max_deposit,
		interest_payment_frequency, apply_by_date, special_features, fscs_protected, scraped_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, p := range products {
		res, err := o.q.ExecContext(ctx, stmt,
			p.Platform, p.Source, p.Method, p.BankName, string(p.AccountType),
			nullFloat(p.AERRate), nullFloat(p.GrossRate), nullInt(p.TermMonths),
			nullInt(p.NoticePeriodDays), nullFloat(p.MinDeposit), nullFloat(p.MaxDeposit),
			p.InterestPaymentFrequency, p.ApplyByDate, p.SpecialFeatures,
			boolToInt(p.FSCSProtected), p.ScrapedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert raw product %q: %w", p.BankName, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			p.ID = id
		}
	}
	return nil
}

func scanRawProduct(rows *sql.Rows) (*types.RawProduct, error) {
	var p types.RawProduct
	var accountType string
	var aer, gross, minDep, maxDep, confidence sql.NullFloat64
	var term, notice sql.NullInt64
	var fscs int
	var normalized sql.NullString
	var processedAt sql.NullTime

	err := rows.Scan(&p.ID, &p.Platform, &p.Source, &p.Method, &p.BankName, &accountType,
		&aer, &gross, &term, &notice, &minDep, &maxDep,
		&p.InterestPaymentFrequency, &p.ApplyByDate, &p.SpecialFeatures, &fscs,
		&p.ScrapedAt, &p.FRN, &normalized, &confidence, &p.BusinessKey, &processedAt)
	if err != nil {
		return nil, err
	}
	p.AccountType = types.AccountType(accountType)
	p.AERRate = floatPtr(aer)
	p.GrossRate = floatPtr(gross)
	p.TermMonths = intPtr(term)
	p.NoticePeriodDays = intPtr(notice)
	p.MinDeposit = floatPtr(minDep)
	p.MaxDeposit = floatPtr(maxDep)
	p.FSCSProtected = fscs != 0
	if confidence.Valid {
		p.ConfidenceScore = confidence.Float64
	}
	p.ProcessedAt = timePtr(processedAt)
	return &p, nil
}

func (o *ops) loadRaw(ctx context.Context, where string, args ...any) ([]*types.RawProduct, error) {
	query := `SELECT ` + rawColumns + ` FROM available_products_raw ` + where + ` ORDER BY id`
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []*types.RawProduct
	for rows.Next() {
		p, err := scanRawProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// LoadRawProducts returns the entire raw table in insertion order. The
// rebuild path feeds this union through FRN matching and deduplication so
// cross-source duplicates meet.
func (o *ops) LoadRawProducts(ctx context.Context) ([]*types.RawProduct, error) {
	return o.loadRaw(ctx, "")
}

// UnprocessedRawProducts returns rows not yet swept into the canonical table.
func (o *ops) UnprocessedRawProducts(ctx context.Context) ([]*types.RawProduct, error) {
	return o.loadRaw(ctx, "WHERE processed_at IS NULL")
}

// UpdateRawFRN writes the FRN matching outcome back onto a raw row.
func (o *ops) UpdateRawFRN(ctx context.Context, id int64, frn, normalizedName string, confidence float64) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE available_products_raw SET frn = ?, bank_name_normalized = ?, confidence_score = ? WHERE id = ?`,
		frn, normalizedName, confidence, id)
	if err != nil {
		return fmt.Errorf("failed to update raw FRN for row %d: %w", id, err)
	}
	return nil
}

// AssignBusinessKey persists a business key onto raw rows matched by the
// (bank, platform, account type, rate) tuple, so the quality analyzer can
// join raw rows to their dedup groups. Returns affected row count.
func (o *ops) AssignBusinessKey(ctx context.Context, bankName, platform string, accountType types.AccountType, aerRate float64, businessKey string) (int64, error) {
	res, err := o.q.ExecContext(ctx,
		`UPDATE available_products_raw SET business_key = ?
		 WHERE bank_name = ? AND platform = ? AND account_type = ? AND aer_rate = ?`,
		businessKey, bankName, platform, string(accountType), aerRate)
	if err != nil {
		return 0, fmt.Errorf("failed to assign business key: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkRawProcessed stamps processed_at on the given rows. Empty ids marks
// every unprocessed row (the fallback copy-through path).
func (o *ops) MarkRawProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		_, err := o.q.ExecContext(ctx,
			`UPDATE available_products_raw SET processed_at = CURRENT_TIMESTAMP WHERE processed_at IS NULL`)
		if err != nil {
			return fmt.Errorf("failed to mark raw rows processed: %w", err)
		}
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(
		`UPDATE available_products_raw SET processed_at = CURRENT_TIMESTAMP WHERE id IN (%s)`,
		strings.Join(placeholders, ","))
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark raw rows processed: %w", err)
	}
	return nil
}

// CountRawProducts returns the raw table size.
func (o *ops) CountRawProducts(ctx context.Context) (int, error) {
	var n int
	err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM available_products_raw`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw products: %w", err)
	}
	return n, nil
}
