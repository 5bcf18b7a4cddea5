package journal

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sends (
	id          TEXT PRIMARY KEY,
	tracking_id TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT 'send',
	provider_id TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sends_tracking_id ON sends(tracking_id);
CREATE INDEX IF NOT EXISTS idx_sends_recipient ON sends(recipient);
CREATE INDEX IF NOT EXISTS idx_sends_created_at ON sends(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
