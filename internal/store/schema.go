package store

// schema is applied on every Open; each statement is safe to re-run.
const schema = `
CREATE TABLE IF NOT EXISTS companies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL REFERENCES companies(id),
	chat_ref TEXT UNIQUE NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_groups_company ON groups(company_id);

CREATE TABLE IF NOT EXISTS group_members (
	group_id INTEGER NOT NULL REFERENCES groups(id),
	user_id TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS departments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL REFERENCES companies(id),
	name TEXT NOT NULL,
	restricted_to_department_members BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE(company_id, name)
);
CREATE INDEX IF NOT EXISTS idx_departments_company ON departments(company_id);

CREATE TABLE IF NOT EXISTS department_members (
	department_id INTEGER NOT NULL REFERENCES departments(id),
	user_id TEXT NOT NULL,
	PRIMARY KEY (department_id, user_id)
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	handle TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	global_role TEXT NOT NULL DEFAULT '',
	last_seen_at DATETIME
);

CREATE TABLE IF NOT EXISTS incidents (
	incident_id TEXT PRIMARY KEY,
	group_id INTEGER NOT NULL REFERENCES groups(id),
	company_id INTEGER NOT NULL REFERENCES companies(id),
	created_by_id TEXT NOT NULL,
	created_by_handle TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL,
	pinned_message_id TEXT NOT NULL DEFAULT '',
	source_message_id TEXT NOT NULL DEFAULT '',
	department_id INTEGER,
	status TEXT NOT NULL,
	pending_resolution_by_user_id TEXT,
	resolved_by_user_id TEXT,
	resolution_summary TEXT NOT NULL DEFAULT '',
	t_created DATETIME NOT NULL,
	t_department_assigned DATETIME,
	t_first_claimed DATETIME,
	t_last_claimed DATETIME,
	t_resolution_requested DATETIME,
	t_resolved DATETIME
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_pinned ON incidents(pinned_message_id);
CREATE INDEX IF NOT EXISTS idx_incidents_group ON incidents(group_id);
CREATE INDEX IF NOT EXISTS idx_incidents_department_assigned ON incidents(status, t_department_assigned);
CREATE INDEX IF NOT EXISTS idx_incidents_resolution_requested ON incidents(status, t_resolution_requested);

CREATE TABLE IF NOT EXISTS claims (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL REFERENCES incidents(incident_id),
	user_id TEXT NOT NULL,
	department_id INTEGER NOT NULL,
	claimed_at DATETIME NOT NULL,
	released_at DATETIME,
	is_active BOOLEAN NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_claims_incident ON claims(incident_id, is_active);
CREATE INDEX IF NOT EXISTS idx_claims_incident_user_active ON claims(incident_id, user_id, is_active);

CREATE TABLE IF NOT EXISTS participants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL REFERENCES incidents(incident_id),
	user_id TEXT NOT NULL,
	department_id INTEGER NOT NULL,
	first_claimed_at DATETIME NOT NULL,
	last_claimed_at DATETIME NOT NULL,
	active_since DATETIME,
	total_active_seconds INTEGER NOT NULL DEFAULT 0,
	join_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	resolved_at DATETIME,
	UNIQUE(incident_id, user_id, department_id)
);
CREATE INDEX IF NOT EXISTS idx_participants_incident ON participants(incident_id);

CREATE TABLE IF NOT EXISTS department_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL REFERENCES incidents(incident_id),
	department_id INTEGER NOT NULL,
	assigned_at DATETIME NOT NULL,
	assigned_by TEXT NOT NULL DEFAULT '',
	claimed_at DATETIME,
	released_at DATETIME,
	status TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_department_sessions_incident ON department_sessions(incident_id, status);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL REFERENCES incidents(incident_id),
	type TEXT NOT NULL,
	actor_id TEXT NOT NULL DEFAULT '',
	at DATETIME NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_incident ON events(incident_id, id);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	group_id INTEGER NOT NULL REFERENCES groups(id),
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	sent_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
`

// applyMigrations runs best-effort schema upgrades against an existing
// database: adding columns introduced after initial release is a no-op
// when the column is already present (the "duplicate column name" error
// is swallowed), mirroring the teacher's ALTER-TABLE-and-ignore idiom.
func (s *Store) applyMigrations() error {
	statements := []string{
		// placeholder for future additive migrations; kept as a slice so
		// new ALTER TABLE statements have an obvious home.
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil && !isDuplicateColumnErr(err) {
			return err
		}
	}
	return nil
}
