package store

// Schema contains the DDL for the check history tables.
const Schema = `
-- Sweeps: one full pass over every configured link
CREATE TABLE IF NOT EXISTS sweeps (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    links       INTEGER NOT NULL DEFAULT 0,
    in_stock    INTEGER NOT NULL DEFAULT 0
);

-- Checks: one verdict per link per sweep
CREATE TABLE IF NOT EXISTS checks (
    id          TEXT PRIMARY KEY,
    sweep_id    TEXT NOT NULL,
    url         TEXT NOT NULL,
    host        TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL,
    found       INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    html_hash   TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    checked_at  INTEGER NOT NULL,
    FOREIGN KEY (sweep_id) REFERENCES sweeps(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_checks_url ON checks(url, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_sweep ON checks(sweep_id);
`
