package storage

// Table shapes for the relational backend. The key-value and embedded
// backends persist the same row shapes as JSON documents under
// namespaced keys; here each namespace becomes an `ns` column so a
// user's cache can be purged with one DELETE.

var tableNames = []string{
	"query_channels_map",
	"channels",
	"messages",
	"reactions",
	"reads",
	"users",
	"members",
}

var createTableStmts = map[string]string{
	"query_channels_map": `CREATE TABLE IF NOT EXISTS query_channels_map (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		cids TEXT DEFAULT '',
		last_synced_at TEXT DEFAULT '',
		PRIMARY KEY (ns, id)
	)`,
	"channels": `CREATE TABLE IF NOT EXISTS channels (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		type TEXT DEFAULT '',
		cid TEXT NOT NULL,
		members TEXT DEFAULT '',
		messages TEXT DEFAULT '',
		read TEXT DEFAULT '',
		pinned_messages TEXT DEFAULT '',
		extra_data TEXT DEFAULT '',
		created_at TEXT DEFAULT '',
		updated_at TEXT DEFAULT '',
		last_message_at TEXT DEFAULT '',
		PRIMARY KEY (ns, cid)
	)`,
	"messages": `CREATE TABLE IF NOT EXISTS messages (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		cid TEXT NOT NULL,
		text TEXT DEFAULT '',
		type TEXT DEFAULT '',
		user TEXT DEFAULT '',
		attachments TEXT DEFAULT '',
		mentioned_users TEXT DEFAULT '',
		latest_reactions TEXT DEFAULT '',
		own_reactions TEXT DEFAULT '',
		reaction_counts TEXT DEFAULT '',
		created_at TEXT DEFAULT '',
		updated_at TEXT DEFAULT '',
		deleted_at TEXT DEFAULT '',
		extra_data TEXT DEFAULT '',
		seq INTEGER DEFAULT 0,
		PRIMARY KEY (ns, id)
	)`,
	"reactions": `CREATE TABLE IF NOT EXISTS reactions (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		message_id TEXT DEFAULT '',
		type TEXT DEFAULT '',
		user TEXT DEFAULT '',
		score INTEGER DEFAULT 0,
		created_at TEXT DEFAULT '',
		updated_at TEXT DEFAULT '',
		PRIMARY KEY (ns, id)
	)`,
	"reads": `CREATE TABLE IF NOT EXISTS reads (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		cid TEXT NOT NULL,
		user TEXT DEFAULT '',
		last_read TEXT NOT NULL,
		unread_messages INTEGER DEFAULT 0,
		PRIMARY KEY (ns, id)
	)`,
	"users": `CREATE TABLE IF NOT EXISTS users (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		role TEXT DEFAULT '',
		online TEXT DEFAULT '',
		banned INTEGER DEFAULT 0,
		last_active TEXT DEFAULT '',
		created_at TEXT DEFAULT '',
		updated_at TEXT DEFAULT '',
		extra_data TEXT DEFAULT '',
		PRIMARY KEY (ns, id)
	)`,
	"members": `CREATE TABLE IF NOT EXISTS members (
		ns TEXT NOT NULL,
		id TEXT NOT NULL,
		cid TEXT NOT NULL,
		user TEXT DEFAULT '',
		role TEXT DEFAULT '',
		created_at TEXT DEFAULT '',
		updated_at TEXT DEFAULT '',
		PRIMARY KEY (ns, id)
	)`,
}
