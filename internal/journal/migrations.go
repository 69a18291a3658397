package journal

// migration is a single versioned schema change.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);

			CREATE TABLE IF NOT EXISTS delivery_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				queue_id INTEGER NOT NULL,
				campaign_id INTEGER,
				recipient TEXT NOT NULL,
				smtp_email TEXT NOT NULL,
				success INTEGER NOT NULL,
				error TEXT,
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_delivery_log_queue_id ON delivery_log(queue_id);

			CREATE TABLE IF NOT EXISTS dead_letters (
				id TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				reason TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			);

			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}
