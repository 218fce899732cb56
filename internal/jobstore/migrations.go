package jobstore

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    badge_types TEXT NOT NULL,
    item_ids TEXT NOT NULL,
    library_id TEXT,
    force_reprocess BOOLEAN NOT NULL DEFAULT FALSE,
    owner TEXT NOT NULL,
    total_items INTEGER NOT NULL,
    completed_items INTEGER NOT NULL DEFAULT 0,
    failed_items INTEGER NOT NULL DEFAULT 0,
    skipped_items INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    started_at TEXT,
    paused_at TEXT,
    completed_at TEXT,
    CHECK (completed_items + failed_items <= total_items)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS item_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    item_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    error_message TEXT,
    artifact_ref TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE (job_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_item_results_job_id ON item_results(job_id);

CREATE TABLE IF NOT EXISTS processed_items (
    library_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    last_status TEXT NOT NULL,
    last_processed_at TEXT NOT NULL,
    processing_count INTEGER NOT NULL DEFAULT 1,
    last_error TEXT,
    badge_types TEXT,
    PRIMARY KEY (library_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_items_status ON processed_items(library_id, last_status);
`
