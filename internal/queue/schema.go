package queue

// Schema creates the queue table. Retention cleanup of terminal rows is an
// external collaborator's job; nothing here deletes.
const Schema = `
CREATE TABLE IF NOT EXISTS queue_items (
    id                    UUID PRIMARY KEY,
    campaign_id           TEXT NOT NULL,
    content_fingerprint   TEXT NOT NULL,
    source_type           TEXT NOT NULL,
    item_id               TEXT NOT NULL DEFAULT '',
    title                 TEXT NOT NULL DEFAULT '',
    excerpt               TEXT NOT NULL DEFAULT '',
    body                  TEXT NOT NULL DEFAULT '',
    canonical_url         TEXT NOT NULL DEFAULT '',
    published_at          TIMESTAMPTZ,
    author                TEXT NOT NULL DEFAULT '',
    media_urls            TEXT[] NOT NULL DEFAULT '{}',
    categories            TEXT[] NOT NULL DEFAULT '{}',
    raw_metadata          JSONB NOT NULL DEFAULT '{}',
    priority              INTEGER NOT NULL DEFAULT 0,
    status                TEXT NOT NULL DEFAULT 'pending',
    retry_count           INTEGER NOT NULL DEFAULT 0,
    last_error_kind       TEXT NOT NULL DEFAULT '',
    last_error_message    TEXT NOT NULL DEFAULT '',
    discovered_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    not_before            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processing_started_at TIMESTAMPTZ,
    processed_at          TIMESTAMPTZ,
    result_reference      TEXT NOT NULL DEFAULT '',
    CONSTRAINT queue_items_dedup UNIQUE (campaign_id, content_fingerprint)
);

CREATE INDEX IF NOT EXISTS queue_items_lease_idx
    ON queue_items (campaign_id, status, priority DESC, discovered_at ASC);
`
