package migrate

// The shipped catalog. The base schema is the latest shape, applied in one
// transaction when a store is created fresh; the numbered patches carry
// legacy stores forward one shape at a time. Patches are immutable once
// shipped: fix-forward with a new ordinal, never edit an old one.

const baseSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_name TEXT NOT NULL,
		absolute_path TEXT NOT NULL UNIQUE,
		description_md TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contexts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		description_md TEXT,
		user_id INTEGER REFERENCES users(id),
		project_id INTEGER REFERENCES project(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		context_id INTEGER NOT NULL,
		task_number INTEGER,
		title TEXT NOT NULL,
		description_md TEXT,
		status TEXT NOT NULL DEFAULT 'planned',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		parent_id INTEGER,
		sort_index INTEGER,
		sub_index INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (context_id) REFERENCES contexts(id)
	);

	CREATE TABLE IF NOT EXISTS context_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		context_id INTEGER NOT NULL,
		note_md TEXT NOT NULL,
		created_at TEXT NOT NULL,
		actor TEXT,
		kind TEXT NOT NULL DEFAULT 'note',
		FOREIGN KEY (context_id) REFERENCES contexts(id)
	);

	CREATE TABLE IF NOT EXISTS task_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		note_md TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS context_state (
		context_id INTEGER PRIMARY KEY,
		active_task_id INTEGER,
		last_task_id INTEGER,
		next_step TEXT,
		status_label TEXT,
		last_event TEXT,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (context_id) REFERENCES contexts(id)
	);

	CREATE TABLE IF NOT EXISTS global_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		active_context_id INTEGER,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (active_context_id) REFERENCES contexts(id)
	);

	CREATE TABLE IF NOT EXISTS user_state (
		user_id INTEGER NOT NULL,
		project_id INTEGER NOT NULL,
		active_context_id INTEGER,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, project_id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS changelog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		context_id INTEGER,
		task_id INTEGER,
		action TEXT NOT NULL,
		details_md TEXT,
		created_at TEXT NOT NULL,
		actor TEXT,
		FOREIGN KEY (context_id) REFERENCES contexts(id)
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_context_deleted ON tasks(context_id, is_deleted);
	CREATE INDEX IF NOT EXISTS idx_changelog_task_created ON changelog(task_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_contexts_project ON contexts(project_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contexts_project_name ON contexts(project_id, name);
	CREATE INDEX IF NOT EXISTS idx_context_notes_kind ON context_notes(context_id, kind);
`

var shippedPatches = []Patch{
	{
		Ordinal:     1,
		Description: "per-context task numbering",
		Script:      `ALTER TABLE tasks ADD COLUMN task_number INTEGER;`,
	},
	{
		Ordinal:     2,
		Description: "link changelog entries to tasks",
		Idempotent:  false,
		Script: `
			ALTER TABLE changelog ADD COLUMN task_id INTEGER;
			CREATE INDEX IF NOT EXISTS idx_changelog_task_created ON changelog(task_id, created_at);
		`,
	},
	{
		Ordinal:     3,
		Description: "soft-delete flag on tasks",
		Script: `
			ALTER TABLE tasks ADD COLUMN is_deleted INTEGER NOT NULL DEFAULT 0;
			CREATE INDEX IF NOT EXISTS idx_tasks_context_deleted ON tasks(context_id, is_deleted);
		`,
	},
	{
		Ordinal:     4,
		Description: "per-context cursor state",
		Idempotent:  true,
		Script: `
			CREATE TABLE IF NOT EXISTS context_state (
				context_id INTEGER PRIMARY KEY,
				active_task_id INTEGER,
				last_task_id INTEGER,
				next_step TEXT,
				status_label TEXT,
				last_event TEXT,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (context_id) REFERENCES contexts(id)
			);
		`,
	},
	{
		Ordinal:     5,
		Description: "per-user active context, seeded from global state",
		Script: `
			CREATE TABLE IF NOT EXISTS user_state (
				user_id INTEGER NOT NULL PRIMARY KEY,
				active_context_id INTEGER,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id)
			);
			INSERT OR IGNORE INTO user_state (user_id, active_context_id, updated_at)
			SELECT u.id, g.active_context_id, g.updated_at
			FROM users u, global_state g
			WHERE g.id = 1;
		`,
	},
	{
		Ordinal:     6,
		Description: "user display names",
		Script:      `ALTER TABLE users ADD COLUMN display_name TEXT;`,
	},
	{
		// Shape migration: SQLite cannot alter constraints in place, so the
		// affected tables are recreated via copy-then-rename. Runs with
		// foreign keys suspended; the runner re-checks them afterward.
		Ordinal:     7,
		Description: "project scoping: recreate contexts, project, user_state",
		Script: `
			CREATE TABLE contexts_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				description_md TEXT,
				user_id INTEGER REFERENCES users(id),
				project_id INTEGER REFERENCES project(id),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			INSERT INTO contexts_new (id, name, status, description_md, user_id, project_id, created_at, updated_at)
			SELECT id, name, status, description_md, user_id, NULL, created_at, updated_at FROM contexts;
			DROP TABLE contexts;
			ALTER TABLE contexts_new RENAME TO contexts;

			CREATE TABLE project_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_name TEXT NOT NULL,
				absolute_path TEXT NOT NULL UNIQUE,
				description_md TEXT,
				created_at TEXT NOT NULL
			);
			INSERT INTO project_new (id, project_name, absolute_path, description_md, created_at)
			SELECT id, project_name, absolute_path, description_md, created_at FROM project;
			DROP TABLE project;
			ALTER TABLE project_new RENAME TO project;

			CREATE TABLE user_state_new (
				user_id INTEGER NOT NULL,
				project_id INTEGER NOT NULL,
				active_context_id INTEGER,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, project_id),
				FOREIGN KEY (user_id) REFERENCES users(id)
			);
			INSERT INTO user_state_new (user_id, project_id, active_context_id, updated_at)
			SELECT s.user_id, (SELECT MIN(id) FROM project), s.active_context_id, s.updated_at
			FROM user_state s
			WHERE (SELECT COUNT(*) FROM project) > 0;
			DROP TABLE user_state;
			ALTER TABLE user_state_new RENAME TO user_state;
		`,
	},
	{
		Ordinal:     8,
		Description: "backfill project_id on contexts",
		Idempotent:  true,
		Script: `
			UPDATE contexts
			SET project_id = (SELECT MIN(id) FROM project)
			WHERE project_id IS NULL AND (SELECT COUNT(*) FROM project) > 0;
			CREATE INDEX IF NOT EXISTS idx_contexts_project ON contexts(project_id);
		`,
	},
	{
		Ordinal:     9,
		Description: "typed context notes (goal/plan/note)",
		Script: `
			ALTER TABLE context_notes ADD COLUMN kind TEXT NOT NULL DEFAULT 'note';
			CREATE INDEX IF NOT EXISTS idx_context_notes_kind ON context_notes(context_id, kind);
		`,
	},
	{
		Ordinal:     10,
		Description: "project-scoped unique context names",
		Idempotent:  true,
		Script:      `CREATE UNIQUE INDEX IF NOT EXISTS idx_contexts_project_name ON contexts(project_id, name);`,
	},
}

// Shipped returns the catalog built into this binary. The gap check cannot
// fail for a correctly shipped sequence; a panic here means the build itself
// is broken.
func Shipped() *Catalog {
	c, err := NewCatalog(baseSchema, shippedPatches)
	if err != nil {
		panic(err)
	}
	return c
}
