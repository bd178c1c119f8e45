package sqlite

const schema = `
-- Raw product landing table. Cleared per (source, method) by ingestion,
-- patched by FRN matching (frn, confidence) and deduplication (business_key).
CREATE TABLE IF NOT EXISTS available_products_raw (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    source TEXT NOT NULL,
    method TEXT NOT NULL,
    bank_name TEXT NOT NULL,
    account_type TEXT NOT NULL CHECK(account_type IN ('easy_access', 'notice', 'fixed_term')),
    aer_rate REAL,
    gross_rate REAL,
    term_months INTEGER,
    notice_period_days INTEGER,
    min_deposit REAL,
    max_deposit REAL,
    interest_payment_frequency TEXT DEFAULT '',
    apply_by_date TEXT DEFAULT '',
    special_features TEXT DEFAULT '',
    fscs_protected INTEGER NOT NULL DEFAULT 0,
    scraped_at DATETIME NOT NULL,
    frn TEXT DEFAULT '',
    bank_name_normalized TEXT DEFAULT '',
    confidence_score REAL DEFAULT 0,
    business_key TEXT DEFAULT '',
    processed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_raw_origin ON available_products_raw(source, method);
CREATE INDEX IF NOT EXISTS idx_raw_business_key ON available_products_raw(business_key);
CREATE INDEX IF NOT EXISTS idx_raw_processed ON available_products_raw(processed_at);

-- Canonical product table, replaced wholesale per run.
CREATE TABLE IF NOT EXISTS available_products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    source TEXT NOT NULL,
    method TEXT NOT NULL DEFAULT '',
    bank_name TEXT NOT NULL,
    account_type TEXT NOT NULL,
    aer_rate REAL,
    gross_rate REAL,
    term_months INTEGER,
    notice_period_days INTEGER,
    min_deposit REAL,
    max_deposit REAL,
    fscs_protected INTEGER NOT NULL DEFAULT 0,
    scraped_at DATETIME,
    frn TEXT DEFAULT '',
    frn_confidence REAL DEFAULT 0,
    frn_status TEXT DEFAULT '',
    frn_source TEXT DEFAULT '',
    business_key TEXT NOT NULL,
    quality_score REAL NOT NULL DEFAULT 0,
    duplicate_count INTEGER NOT NULL DEFAULT 0,
    selection_reason TEXT NOT NULL DEFAULT '',
    competing_ids TEXT DEFAULT '[]',
    fscs_compliant INTEGER NOT NULL DEFAULT 1,
    platform_category TEXT NOT NULL DEFAULT 'aggregator',
    metadata TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_clean_business_key ON available_products(business_key);
CREATE INDEX IF NOT EXISTS idx_clean_bank ON available_products(bank_name);

-- Archive of canonical rows, written before fallback copy-through.
CREATE TABLE IF NOT EXISTS historical_products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    source TEXT NOT NULL,
    bank_name TEXT NOT NULL,
    account_type TEXT NOT NULL,
    aer_rate REAL,
    term_months INTEGER,
    notice_period_days INTEGER,
    business_key TEXT NOT NULL,
    quality_score REAL,
    selection_reason TEXT,
    archived_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Category-scoped typed configuration. No defaults exist in code: a missing
-- key fails the consuming stage with CONFIG_LOAD_FAILED.
CREATE TABLE IF NOT EXISTS unified_config (
    category TEXT NOT NULL,
    config_key TEXT NOT NULL,
    config_value TEXT NOT NULL,
    config_type TEXT NOT NULL DEFAULT 'string' CHECK(config_type IN ('number', 'boolean', 'string', 'json')),
    is_active INTEGER NOT NULL DEFAULT 1,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (category, config_key)
);

-- Declarative validation rules compiled by the rules engine at load time.
CREATE TABLE IF NOT EXISTS unified_business_rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_category TEXT NOT NULL,
    rule_name TEXT NOT NULL DEFAULT '',
    conditions_json TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_params_json TEXT NOT NULL DEFAULT '{}',
    priority INTEGER NOT NULL DEFAULT 100,
    enabled INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_rules_category ON unified_business_rules(rule_category, enabled);

-- Platform reference data: priority, category, preferred-platform settings.
CREATE TABLE IF NOT EXISTS platforms (
    platform TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT 'aggregator' CHECK(category IN ('direct', 'aggregator')),
    is_preferred INTEGER NOT NULL DEFAULT 0,
    rate_tolerance REAL NOT NULL DEFAULT 0,
    reliability REAL NOT NULL DEFAULT 0
);

-- Scraper reference data: per-source reliability applied during ingestion.
CREATE TABLE IF NOT EXISTS scrapers (
    source TEXT PRIMARY KEY,
    reliability REAL NOT NULL DEFAULT 0
);

-- FRN lookup cache sources.
CREATE TABLE IF NOT EXISTS frn_manual_overrides (
    bank_name TEXT PRIMARY KEY,
    frn TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS boe_institutions (
    frn TEXT NOT NULL,
    firm_name TEXT NOT NULL,
    PRIMARY KEY (frn, firm_name)
);

CREATE TABLE IF NOT EXISTS boe_shared_brands (
    frn TEXT NOT NULL,
    brand_name TEXT NOT NULL,
    PRIMARY KEY (frn, brand_name)
);

-- Derived lookup cache, rebuilt wholesale at startup and after override
-- changes. match_rank = 1 marks the winning entry per search_name.
CREATE TABLE IF NOT EXISTS frn_lookup_helper_cache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    search_name TEXT NOT NULL,
    frn TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    match_type TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    priority_rank INTEGER NOT NULL,
    match_rank INTEGER NOT NULL DEFAULT 0,
    source_table TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_frn_cache_search ON frn_lookup_helper_cache(search_name, priority_rank);
CREATE INDEX IF NOT EXISTS idx_frn_cache_rank ON frn_lookup_helper_cache(match_rank);

-- Holding pen for weak or unknown bank names. Size cap enforced by caller.
CREATE TABLE IF NOT EXISTS frn_research_queue (
    bank_name TEXT PRIMARY KEY,
    platform TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    first_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Batch bookkeeping.
CREATE TABLE IF NOT EXISTS pipeline_batch (
    batch_id TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'failed')),
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    error_message TEXT DEFAULT ''
);

-- One row per stage per batch, pre-inserted with zero counts so other
-- components can reference a stable row before the stage finishes.
CREATE TABLE IF NOT EXISTS pipeline_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    stage_order INTEGER NOT NULL,
    passed INTEGER NOT NULL DEFAULT 0,
    rejected INTEGER NOT NULL DEFAULT 0,
    timing_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT DEFAULT '',
    detail_json TEXT DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (batch_id, stage)
);

CREATE TABLE IF NOT EXISTS pipeline_audit_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    product_ref TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL DEFAULT '',
    detail_json TEXT DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS json_ingestion_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    source TEXT NOT NULL,
    method TEXT NOT NULL,
    platform TEXT NOT NULL DEFAULT '',
    bank_name_original TEXT NOT NULL DEFAULT '',
    bank_name_normalized TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    rejection_reason TEXT DEFAULT '',
    quality_flags TEXT DEFAULT '',
    corruption_severity TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ingestion_audit_batch ON json_ingestion_audit(batch_id);

CREATE TABLE IF NOT EXISTS json_ingestion_corruption_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    total_products INTEGER NOT NULL,
    validation_failures INTEGER NOT NULL,
    failure_rate REAL NOT NULL,
    threshold REAL NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS frn_matching_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    bank_name TEXT NOT NULL,
    normalized_name TEXT NOT NULL DEFAULT '',
    frn TEXT DEFAULT '',
    confidence REAL DEFAULT 0,
    status TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'NONE',
    candidates_json TEXT DEFAULT '[]',
    normalization_steps TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_frn_audit_batch ON frn_matching_audit(batch_id);

CREATE TABLE IF NOT EXISTS deduplication_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL UNIQUE,
    groups_total INTEGER NOT NULL,
    products_in INTEGER NOT NULL,
    products_out INTEGER NOT NULL,
    fscs_violations INTEGER NOT NULL DEFAULT 0,
    detail_json TEXT DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deduplication_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    business_key TEXT NOT NULL,
    product_count INTEGER NOT NULL,
    winner_ref TEXT NOT NULL DEFAULT '',
    selection_reason TEXT NOT NULL,
    quality_scores_json TEXT DEFAULT '[]',
    competing_json TEXT DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dedup_groups_batch ON deduplication_groups(batch_id);

CREATE TABLE IF NOT EXISTS data_quality_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    overall_score REAL NOT NULL,
    trend TEXT NOT NULL DEFAULT 'stable',
    report_json TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Exclusive lock rows for event-driven reprocessing.
CREATE TABLE IF NOT EXISTS processing_state (
    process_type TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'running',
    started_at DATETIME NOT NULL,
    metadata TEXT DEFAULT ''
);

-- Singleton status row guarding concurrent orchestration runs.
CREATE TABLE IF NOT EXISTS orchestrator_pipeline_status (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    is_running INTEGER NOT NULL DEFAULT 0,
    current_stage TEXT NOT NULL DEFAULT '',
    batch_id TEXT NOT NULL DEFAULT '',
    started_at DATETIME,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO orchestrator_pipeline_status (id, is_running) VALUES (1, 0);
`
