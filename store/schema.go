package store

// Schema is the complete DDL for the claw-rubber database. Init applies it;
// every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS search_requests (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    result_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_requests_created
    ON search_requests(created_at DESC);

CREATE TABLE IF NOT EXISTS search_results (
    result_id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    query TEXT NOT NULL,
    rank INTEGER NOT NULL CHECK (rank >= 1),
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    snippet TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    availability TEXT NOT NULL CHECK (availability IN ('allowed','blocked')),
    block_reason TEXT,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_results_request
    ON search_results(request_id);
CREATE INDEX IF NOT EXISTS idx_search_results_expires
    ON search_results(expires_at);

CREATE TABLE IF NOT EXISTS fetch_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    result_id TEXT,
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    decision TEXT NOT NULL CHECK (decision IN ('allow','block')),
    score INTEGER NOT NULL DEFAULT 0 CHECK (score >= 0),
    flags TEXT NOT NULL DEFAULT '[]',
    reason TEXT,
    blocked_by TEXT CHECK (blocked_by IN
        ('domain-policy','rule-threshold','fail-closed','llm-judge','policy')),
    allowed_by TEXT CHECK (allowed_by IN
        ('domain-allowlist-bypass','language-exception')),
    domain_action TEXT NOT NULL CHECK (domain_action IN
        ('allow-bypass','block','inspect')),
    medium_threshold INTEGER NOT NULL,
    block_threshold INTEGER NOT NULL,
    bypassed INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    trace_kind TEXT NOT NULL DEFAULT 'unknown' CHECK (trace_kind IN
        ('search-result-fetch','direct-web-fetch','unknown')),
    search_request_id TEXT,
    search_query TEXT,
    search_rank INTEGER,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_events_created
    ON fetch_events(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_fetch_events_domain
    ON fetch_events(domain);

CREATE TABLE IF NOT EXISTS flagged_payloads (
    id TEXT PRIMARY KEY,
    fetch_event_id INTEGER NOT NULL REFERENCES fetch_events(id) ON DELETE CASCADE,
    result_id TEXT,
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    score INTEGER NOT NULL,
    flags TEXT NOT NULL DEFAULT '[]',
    evidence TEXT NOT NULL DEFAULT '[]',
    reason TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flagged_payloads_event
    ON flagged_payloads(fetch_event_id);

CREATE TABLE IF NOT EXISTS runtime_allowlist (
    domain TEXT PRIMARY KEY,
    note TEXT,
    added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runtime_blocklist (
    domain TEXT PRIMARY KEY,
    note TEXT,
    added_at INTEGER NOT NULL
);
`
