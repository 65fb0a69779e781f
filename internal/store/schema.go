package store

// schemaInit creates every table the platform needs. Indexes match
// spec.md §4.5: (county), (data_grade), (surplus_amount), (sale_date),
// (claim_deadline), and a partial UNIQUE on (county, case_number) where
// both are non-null.
const schemaInit = `
CREATE TABLE leads (
	id                    TEXT PRIMARY KEY,
	county                TEXT NOT NULL,
	case_number           TEXT,
	owner_name            TEXT,
	property_address      TEXT,
	winning_bid           REAL,
	total_debt            REAL,
	surplus_amount        REAL NOT NULL DEFAULT 0 CHECK (surplus_amount >= 0),
	overbid_amount        REAL,
	estimated_surplus     REAL,
	sale_date             TEXT,
	claim_deadline        TEXT,
	confidence_score      REAL NOT NULL DEFAULT 0 CHECK (confidence_score >= 0 AND confidence_score <= 1),
	data_grade            TEXT NOT NULL DEFAULT 'PIPELINE_STAGING',
	source_url            TEXT,
	source_hash           TEXT,
	parser_name           TEXT,
	extracted_at          TEXT,
	status                TEXT NOT NULL DEFAULT 'STAGED',
	attorney_packet_ready INTEGER NOT NULL DEFAULT 0,
	record_hash           TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	created_at            TEXT NOT NULL
);
CREATE INDEX idx_leads_county ON leads(county);
CREATE INDEX idx_leads_grade ON leads(data_grade);
CREATE INDEX idx_leads_surplus ON leads(surplus_amount);
CREATE INDEX idx_leads_sale_date ON leads(sale_date);
CREATE INDEX idx_leads_claim_deadline ON leads(claim_deadline);
CREATE UNIQUE INDEX idx_leads_county_case ON leads(county, case_number) WHERE case_number IS NOT NULL;
CREATE UNIQUE INDEX idx_leads_record_hash ON leads(record_hash);

CREATE TABLE lead_provenance (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	source_url  TEXT NOT NULL,
	source_hash TEXT NOT NULL,
	parser_name TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX idx_provenance_lead ON lead_provenance(lead_id);

CREATE TABLE quarantine (
	id                TEXT PRIMARY KEY,
	lead_snapshot     TEXT NOT NULL, -- JSON snapshot of the lead row
	quarantine_reason TEXT NOT NULL,
	quarantined_at    TEXT NOT NULL
);

CREATE TABLE pipeline_events (
	idx        INTEGER PRIMARY KEY,
	timestamp  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	old        TEXT NOT NULL DEFAULT '',
	new        TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	meta_hash  TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL
);
CREATE INDEX idx_pipeline_events_target ON pipeline_events(target_id);

CREATE TABLE users (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	password_hash   TEXT NOT NULL,
	tier            TEXT NOT NULL DEFAULT 'scout',
	email_verified  INTEGER NOT NULL DEFAULT 0,
	attorney_status TEXT NOT NULL DEFAULT 'none',
	bar_number      TEXT,
	is_admin        INTEGER NOT NULL DEFAULT 0,
	active          INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE email_verifications (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	code       TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	used_at    TEXT
);

CREATE TABLE wallets (
	user_id              TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	subscription_credits INTEGER NOT NULL DEFAULT 0 CHECK (subscription_credits >= 0),
	purchased_credits    INTEGER NOT NULL DEFAULT 0 CHECK (purchased_credits >= 0),
	updated_at           TEXT NOT NULL
);

CREATE TABLE transactions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL, -- credit, debit, refund, adjustment
	bucket     TEXT NOT NULL, -- subscription, purchased
	amount     INTEGER NOT NULL CHECK (amount > 0),
	reason     TEXT NOT NULL,
	ref_id     TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_transactions_user ON transactions(user_id);

CREATE TABLE unlocks (
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	lead_id       TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	unlocked_at   TEXT NOT NULL,
	credits_spent INTEGER NOT NULL,
	client_ip     TEXT NOT NULL DEFAULT '',
	tier_at_time  TEXT NOT NULL,
	PRIMARY KEY (user_id, lead_id)
);

CREATE TABLE payment_events (
	provider_event_id TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	received_at       TEXT NOT NULL,
	processed_at      TEXT,
	outcome           TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE founders_slots (
	user_id    TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	claimed_at TEXT NOT NULL
);

CREATE TABLE statute_authority (
	jurisdiction    TEXT NOT NULL,
	asset_type      TEXT NOT NULL,
	statute_years   REAL NOT NULL,
	triggering_event TEXT NOT NULL,
	citation        TEXT NOT NULL,
	fee_cap_pct     REAL,
	fee_cap_flat    REAL,
	known_issues    TEXT NOT NULL DEFAULT '',
	verified_at     TEXT NOT NULL,
	PRIMARY KEY (jurisdiction, asset_type)
);

CREATE TABLE scraper_registry (
	scraper_name      TEXT PRIMARY KEY,
	jurisdiction      TEXT NOT NULL,
	last_run_at       TEXT,
	last_status       TEXT NOT NULL DEFAULT 'never_run',
	records_produced  INTEGER NOT NULL DEFAULT 0,
	enabled           INTEGER NOT NULL DEFAULT 1,
	disabled_reason   TEXT NOT NULL DEFAULT '',
	consecutive_fails INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE crawl_cache (
	url           TEXT PRIMARY KEY,
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	fetched_at    TEXT NOT NULL
);

CREATE TABLE download_index (
	sha256     TEXT PRIMARY KEY,
	county     TEXT NOT NULL,
	path       TEXT NOT NULL,
	downloaded_at TEXT NOT NULL
);

CREATE TABLE webhook_subscriptions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	url        TEXT NOT NULL,
	events     TEXT NOT NULL, -- JSON array, e.g. ["lead.matched","lead.restricted"]
	county     TEXT NOT NULL DEFAULT '', -- '' means all counties
	min_grade  TEXT NOT NULL DEFAULT 'IRON',
	secret     TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE webhook_deliveries (
	id              TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL REFERENCES webhook_subscriptions(id) ON DELETE CASCADE,
	event_type      TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	attempt         INTEGER NOT NULL,
	success         INTEGER NOT NULL,
	error_message   TEXT NOT NULL DEFAULT '',
	delivered_at    TEXT NOT NULL
);
CREATE INDEX idx_webhook_deliveries_sub ON webhook_deliveries(subscription_id);

CREATE TABLE sessions (
	jti        TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	issued_at  TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	revoked    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_sessions_user ON sessions(user_id);

CREATE TABLE anomaly_log (
	id         TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	reason     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

-- preview_keys maps the truncated HMAC preview key the public API
-- exposes back to a lead id in O(1), without requiring the lead store
-- itself to know the preview HMAC secret. Populated lazily as leads are
-- first surfaced through the preview endpoint.
CREATE TABLE preview_keys (
	preview_key TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE
);
`

// schemaStatuteSeed ships a small curated set of statute rows keyed by
// state code with asset types residential and commercial. The extraction
// engine looks claim deadlines up by (county, "foreclosure_surplus"),
// which matches none of these rows.
const schemaStatuteSeed = `
INSERT INTO statute_authority (jurisdiction, asset_type, statute_years, triggering_event, citation, fee_cap_pct, fee_cap_flat, known_issues, verified_at) VALUES
	('CO', 'residential', 5.0, 'sale_date', 'C.R.S. 38-38-111', 0.10, NULL, '', '2026-01-01'),
	('CO', 'commercial',  5.0, 'sale_date', 'C.R.S. 38-38-111', 0.10, NULL, '', '2026-01-01'),
	('TX', 'residential', 2.0, 'sale_date', 'Tex. Prop. Code 34.04', NULL, 1000, '', '2026-01-01'),
	('FL', 'residential', 2.0, 'sale_date', 'Fla. Stat. 45.032', NULL, NULL, 'surplus claims require court petition', '2026-01-01'),
	('GA', 'residential', 5.0, 'sale_date', 'O.C.G.A. 48-4-5', NULL, NULL, '', '2026-01-01'),
	('CA', 'residential', 1.0, 'sale_date', 'Cal. Civ. Proc. Code 701.590', 0.0, NULL, 'one-year claim window is unusually short', '2026-01-01'),
	('OH', 'residential', 5.0, 'sale_date', 'Ohio Rev. Code 5721.20', NULL, NULL, '', '2026-01-01');
`
