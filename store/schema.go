package store

// Schema contains the complete DDL for the rule tables. One row per
// (origin, collection, selector); the primary key enforces set semantics so
// a duplicate add is a no-op at the SQL level.
const Schema = `
CREATE TABLE IF NOT EXISTS rules (
    origin      TEXT NOT NULL,
    collection  TEXT NOT NULL,
    selector    TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT '',
    match_count INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (origin, collection, selector)
);
CREATE INDEX IF NOT EXISTS idx_rules_origin ON rules(origin, collection, created_at);
`
