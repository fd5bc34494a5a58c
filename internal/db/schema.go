package db

import (
	"fmt"
)

const schemaVersion = 2

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS articles (
    id         INTEGER PRIMARY KEY,
    doi        TEXT UNIQUE,
    title      TEXT NOT NULL DEFAULT '',
    abstract   TEXT NOT NULL DEFAULT '',
    journal    TEXT NOT NULL DEFAULT '',
    pub_year   INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_articles_journal ON articles(journal);

CREATE TABLE IF NOT EXISTS batches (
    id             TEXT PRIMARY KEY,
    remote_job_id  TEXT UNIQUE,
    model          TEXT NOT NULL DEFAULT '',
    when_created   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    when_sent      TEXT,
    when_retrieved TEXT
);

CREATE TABLE IF NOT EXISTS work_items (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id             TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    article_id           INTEGER NOT NULL REFERENCES articles(id),
    has_abstract         INTEGER NOT NULL DEFAULT 0 CHECK(has_abstract IN (0,1)),
    pub_year             INTEGER NOT NULL DEFAULT 0,
    processed            INTEGER NOT NULL DEFAULT 0 CHECK(processed IN (0,1)),
    caucasian            INTEGER NOT NULL DEFAULT 0 CHECK(caucasian IN (0,1)),
    white                INTEGER NOT NULL DEFAULT 0 CHECK(white IN (0,1)),
    european             INTEGER NOT NULL DEFAULT 0 CHECK(european IN (0,1)),
    european_phrase_used TEXT NOT NULL DEFAULT '',
    other                INTEGER NOT NULL DEFAULT 0 CHECK(other IN (0,1)),
    other_phrase_used    TEXT NOT NULL DEFAULT '',
    prompt_tokens        INTEGER NOT NULL DEFAULT 0,
    completion_tokens    INTEGER NOT NULL DEFAULT 0,
    when_processed       TEXT
);

CREATE INDEX IF NOT EXISTS idx_work_items_batch ON work_items(batch_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_one_per_article
    ON work_items(article_id);

CREATE TABLE IF NOT EXISTS progress_snapshots (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id         TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    when_checked     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    number_completed INTEGER NOT NULL DEFAULT 0 CHECK(number_completed >= 0),
    number_failed    INTEGER NOT NULL DEFAULT 0 CHECK(number_failed >= 0)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_batch ON progress_snapshots(batch_id, id);

CREATE TABLE IF NOT EXISTS diagnostic_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id   TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    article_id INTEGER REFERENCES articles(id),
    event_type TEXT NOT NULL CHECK(event_type IN ('submitted', 'skipped', 'summary')),
    details    TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_diagnostic_events_batch ON diagnostic_events(batch_id);
`

func (s *Store) createSchema() error {
	if _, err := s.Writer.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	// Insert schema version if not present.
	var count int
	if err := s.Writer.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.Writer.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	}

	// Migrations: add columns that may not exist in older schemas.
	_, _ = s.Writer.Exec("ALTER TABLE work_items ADD COLUMN european_phrase_used TEXT NOT NULL DEFAULT ''")
	_, _ = s.Writer.Exec("ALTER TABLE work_items ADD COLUMN other_phrase_used TEXT NOT NULL DEFAULT ''")
	_, _ = s.Writer.Exec("ALTER TABLE work_items ADD COLUMN prompt_tokens INTEGER NOT NULL DEFAULT 0")
	_, _ = s.Writer.Exec("ALTER TABLE work_items ADD COLUMN completion_tokens INTEGER NOT NULL DEFAULT 0")
	_, _ = s.Writer.Exec("ALTER TABLE batches ADD COLUMN model TEXT NOT NULL DEFAULT ''")

	return nil
}
