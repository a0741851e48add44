package storage

const schemaSQL = `
-- Slots hold whole JSON artifacts keyed by name: "teams", "players",
-- "visualization" and one slot per team id. Each run overwrites the
-- previous payload in place.
CREATE TABLE IF NOT EXISTS slots (
    id TEXT PRIMARY KEY NOT NULL,
    payload TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Cached robots.txt rules per origin, loaded back on startup so a
-- restart does not refetch robots.txt before the TTL expires.
CREATE TABLE IF NOT EXISTS robots_cache (
    origin TEXT PRIMARY KEY NOT NULL,
    rules TEXT NOT NULL,
    fetched_at TEXT NOT NULL
);

-- One row per finished crawl run.
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY NOT NULL,
    status TEXT NOT NULL,
    teams INTEGER NOT NULL DEFAULT 0,
    players INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
