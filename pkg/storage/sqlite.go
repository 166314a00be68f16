package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatcache/pkg/keys"
	"chatcache/pkg/logger"
	"chatcache/pkg/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the relational backend. The document layout used by
// the other drivers is unfolded into real tables: messages, reactions,
// members and reads become rows keyed by (ns, id), and GetItem/SetItem
// fold them back into the shared JSON encodings so callers cannot tell
// the backends apart.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens the database at dsn and ensures the table set exists.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		logger.Log.Error("sqlite_open_failed", "dsn", dsn, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// an in-memory database exists per connection; the pool must not grow
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Log.Info("sqlite_opened", "dsn", dsn)
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	for _, name := range tableNames {
		if _, err := s.db.ExecContext(ctx, createTableStmts[name]); err != nil {
			return fmt.Errorf("%w: create table %s: %v", ErrStorageUnavailable, name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// sqlMessage carries the extra relational-only columns next to the
// shared row shape.
type sqlMessage struct {
	models.MessageRow
	LatestIDs string `db:"latest_reactions"`
	OwnIDs    string `db:"own_reactions"`
	Seq       int    `db:"seq"`
}

func (s *SQLiteStore) GetItem(ctx context.Context, key string) (v []byte, err error) {
	defer func(start time.Time) { observe("sqlite", "get_item", start, err) }(time.Now())
	if s.db == nil {
		return nil, ErrClosed
	}
	p := keys.Parse(key)
	switch p.Kind {
	case keys.KindQuery:
		var r struct {
			ID   string `db:"id"`
			CIDs string `db:"cids"`
			Last string `db:"last_synced_at"`
		}
		err := sqlx.GetContext(ctx, s.db, &r,
			`SELECT id, cids, last_synced_at FROM query_channels_map WHERE ns = ? AND id = ?`, p.NS, p.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		q := models.QueryRow{ID: r.ID, LastSyncedAt: r.Last}
		if r.CIDs != "" {
			if err := json.Unmarshal([]byte(r.CIDs), &q.CIDs); err != nil {
				return nil, fmt.Errorf("invalid cids for query %s: %w", r.ID, err)
			}
		}
		return json.Marshal(q)

	case keys.KindChannel:
		var r models.ChannelRow
		err := sqlx.GetContext(ctx, s.db, &r,
			`SELECT id, type, cid, members, messages, read, pinned_messages, extra_data,
			        created_at, updated_at, last_message_at
			 FROM channels WHERE ns = ? AND cid = ?`, p.NS, p.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return json.Marshal(r)

	case keys.KindChannelMessages:
		rows, err := s.channelMessages(ctx, p.NS, p.ID)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			return nil, nil
		}
		return json.Marshal(rows)

	case keys.KindChannelMembers:
		var rows []models.MemberRow
		err := sqlx.SelectContext(ctx, s.db, &rows,
			`SELECT id, cid, user, role, created_at, updated_at
			 FROM members WHERE ns = ? AND cid = ? ORDER BY rowid`, p.NS, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return json.Marshal(rows)

	case keys.KindChannelReads:
		var rows []models.ReadRow
		err := sqlx.SelectContext(ctx, s.db, &rows,
			`SELECT id, cid, user, last_read, unread_messages
			 FROM reads WHERE ns = ? AND cid = ?`, p.NS, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		byUser := make(map[string]models.ReadRow, len(rows))
		for _, r := range rows {
			byUser[r.User] = r
		}
		return json.Marshal(byUser)

	case keys.KindUser:
		var r models.UserRow
		err := sqlx.GetContext(ctx, s.db, &r,
			`SELECT id, role, online, banned, last_active, created_at, updated_at, extra_data
			 FROM users WHERE ns = ? AND id = ?`, p.NS, p.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return json.Marshal(r)
	}
	return nil, fmt.Errorf("unroutable key %q", key)
}

// channelMessages loads a channel's message rows with their reaction
// rows rejoined from the reactions table. Returns nil when the channel
// has no stored message entry at all.
func (s *SQLiteStore) channelMessages(ctx context.Context, ns, cid string) ([]models.MessageRow, error) {
	var raw []sqlMessage
	err := sqlx.SelectContext(ctx, s.db, &raw,
		`SELECT id, cid, text, type, user, attachments, mentioned_users,
		        latest_reactions, own_reactions, reaction_counts,
		        created_at, updated_at, deleted_at, extra_data, seq
		 FROM messages WHERE ns = ? AND cid = ? ORDER BY seq`, ns, cid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var reactionIDs []string
	idLists := make([][2][]string, len(raw))
	for i, m := range raw {
		var latest, own []string
		if m.LatestIDs != "" {
			_ = json.Unmarshal([]byte(m.LatestIDs), &latest)
		}
		if m.OwnIDs != "" {
			_ = json.Unmarshal([]byte(m.OwnIDs), &own)
		}
		idLists[i] = [2][]string{latest, own}
		reactionIDs = append(reactionIDs, latest...)
		reactionIDs = append(reactionIDs, own...)
	}

	byID := make(map[string]models.ReactionRow)
	if len(reactionIDs) > 0 {
		query, args, err := sqlx.In(
			`SELECT id, message_id, type, user, score, created_at, updated_at
			 FROM reactions WHERE ns = ? AND id IN (?)`, ns, reactionIDs)
		if err != nil {
			return nil, err
		}
		var rs []models.ReactionRow
		if err := sqlx.SelectContext(ctx, s.db, &rs, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		for _, r := range rs {
			byID[r.ID] = r
		}
	}

	out := make([]models.MessageRow, len(raw))
	for i, m := range raw {
		row := m.MessageRow
		row.LatestReactions = lookupReactions(byID, idLists[i][0])
		row.OwnReactions = lookupReactions(byID, idLists[i][1])
		out[i] = row
	}
	return out, nil
}

func lookupReactions(byID map[string]models.ReactionRow, ids []string) []models.ReactionRow {
	out := make([]models.ReactionRow, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *SQLiteStore) SetItem(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { observe("sqlite", "set_item", start, err) }(time.Now())
	return s.MultiSet(ctx, map[string][]byte{key: value})
}

// MultiSet routes every entry to its table inside one transaction.
func (s *SQLiteStore) MultiSet(ctx context.Context, items map[string][]byte) (err error) {
	defer func(start time.Time) { observe("sqlite", "multi_set", start, err) }(time.Now())
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	ks := make([]string, 0, len(items))
	for k := range items {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	for _, k := range ks {
		if err = s.setItemTx(ctx, tx, k, items[k]); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		logger.Log.Error("sqlite_multiset_commit_failed", "entries", len(items), "err", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) setItemTx(ctx context.Context, tx *sqlx.Tx, key string, value []byte) error {
	p := keys.Parse(key)
	switch p.Kind {
	case keys.KindQuery:
		var q models.QueryRow
		if err := json.Unmarshal(value, &q); err != nil {
			return fmt.Errorf("invalid query row for %s: %w", key, err)
		}
		cids, _ := json.Marshal(q.CIDs)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO query_channels_map (ns, id, cids, last_synced_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (ns, id) DO UPDATE SET cids = excluded.cids, last_synced_at = excluded.last_synced_at`,
			p.NS, p.ID, string(cids), q.LastSyncedAt)
		return wrapUnavailable(err)

	case keys.KindChannel:
		var c models.ChannelRow
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("invalid channel row for %s: %w", key, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO channels (ns, id, type, cid, members, messages, read, pinned_messages,
			                       extra_data, created_at, updated_at, last_message_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (ns, cid) DO UPDATE SET
			   id = excluded.id, type = excluded.type, members = excluded.members,
			   messages = excluded.messages, read = excluded.read,
			   pinned_messages = excluded.pinned_messages, extra_data = excluded.extra_data,
			   created_at = excluded.created_at, updated_at = excluded.updated_at,
			   last_message_at = excluded.last_message_at`,
			p.NS, c.ID, c.Type, c.CID, c.Members, c.Messages, c.Reads, c.PinnedMessages,
			c.ExtraData, c.CreatedAt, c.UpdatedAt, c.LastMessageAt)
		return wrapUnavailable(err)

	case keys.KindChannelMessages:
		var msgs []models.MessageRow
		if err := json.Unmarshal(value, &msgs); err != nil {
			return fmt.Errorf("invalid message rows for %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reactions WHERE ns = ? AND message_id IN (SELECT id FROM messages WHERE ns = ? AND cid = ?)`,
			p.NS, p.NS, p.ID); err != nil {
			return wrapUnavailable(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE ns = ? AND cid = ?`, p.NS, p.ID); err != nil {
			return wrapUnavailable(err)
		}
		for i, m := range msgs {
			latest := reactionIDsOf(m.LatestReactions)
			own := reactionIDsOf(m.OwnReactions)
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO messages (ns, id, cid, text, type, user, attachments,
				        mentioned_users, latest_reactions, own_reactions, reaction_counts,
				        created_at, updated_at, deleted_at, extra_data, seq)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.NS, m.ID, m.CID, m.Text, m.Type, m.User, m.Attachments,
				m.MentionedUsers, latest, own, m.ReactionCounts,
				m.CreatedAt, m.UpdatedAt, m.DeletedAt, m.ExtraData, i); err != nil {
				return wrapUnavailable(err)
			}
			for _, r := range append(append([]models.ReactionRow(nil), m.LatestReactions...), m.OwnReactions...) {
				if err := upsertReaction(ctx, tx, p.NS, r); err != nil {
					return err
				}
			}
		}
		return nil

	case keys.KindChannelMembers:
		var members []models.MemberRow
		if err := json.Unmarshal(value, &members); err != nil {
			return fmt.Errorf("invalid member rows for %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE ns = ? AND cid = ?`, p.NS, p.ID); err != nil {
			return wrapUnavailable(err)
		}
		for _, m := range members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO members (ns, id, cid, user, role, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				p.NS, m.ID, m.CID, m.User, m.Role, m.CreatedAt, m.UpdatedAt); err != nil {
				return wrapUnavailable(err)
			}
		}
		return nil

	case keys.KindChannelReads:
		var reads map[string]models.ReadRow
		if err := json.Unmarshal(value, &reads); err != nil {
			return fmt.Errorf("invalid read rows for %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM reads WHERE ns = ? AND cid = ?`, p.NS, p.ID); err != nil {
			return wrapUnavailable(err)
		}
		for _, r := range reads {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO reads (ns, id, cid, user, last_read, unread_messages)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				p.NS, r.ID, r.CID, r.User, r.LastRead, r.UnreadMessages); err != nil {
				return wrapUnavailable(err)
			}
		}
		return nil

	case keys.KindUser:
		var u models.UserRow
		if err := json.Unmarshal(value, &u); err != nil {
			return fmt.Errorf("invalid user row for %s: %w", key, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (ns, id, role, online, banned, last_active, created_at, updated_at, extra_data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (ns, id) DO UPDATE SET
			   role = excluded.role, online = excluded.online, banned = excluded.banned,
			   last_active = excluded.last_active, created_at = excluded.created_at,
			   updated_at = excluded.updated_at, extra_data = excluded.extra_data`,
			p.NS, u.ID, u.Role, u.Online, u.Banned, u.LastActive, u.CreatedAt, u.UpdatedAt, u.ExtraData)
		return wrapUnavailable(err)
	}
	return fmt.Errorf("unroutable key %q", key)
}

func reactionIDsOf(rs []models.ReactionRow) string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func upsertReaction(ctx context.Context, tx *sqlx.Tx, ns string, r models.ReactionRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reactions (ns, id, message_id, type, user, score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (ns, id) DO UPDATE SET
		   message_id = excluded.message_id, type = excluded.type, user = excluded.user,
		   score = excluded.score, created_at = excluded.created_at, updated_at = excluded.updated_at`,
		ns, r.ID, r.MessageID, r.Type, r.User, r.Score, r.CreatedAt, r.UpdatedAt)
	return wrapUnavailable(err)
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func (s *SQLiteStore) MultiGet(ctx context.Context, ks []string) (out map[string][]byte, err error) {
	defer func(start time.Time) { observe("sqlite", "multi_get", start, err) }(time.Now())
	out = make(map[string][]byte, len(ks))
	for _, k := range ks {
		v, err := s.GetItem(ctx, k)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

func (s *SQLiteStore) MultiRemove(ctx context.Context, ks []string) (err error) {
	defer func(start time.Time) { observe("sqlite", "multi_remove", start, err) }(time.Now())
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, k := range ks {
		if err = s.removeTx(ctx, tx, k); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) removeTx(ctx context.Context, tx *sqlx.Tx, key string) error {
	p := keys.Parse(key)
	var err error
	switch p.Kind {
	case keys.KindQuery:
		_, err = tx.ExecContext(ctx, `DELETE FROM query_channels_map WHERE ns = ? AND id = ?`, p.NS, p.ID)
	case keys.KindChannel:
		_, err = tx.ExecContext(ctx, `DELETE FROM channels WHERE ns = ? AND cid = ?`, p.NS, p.ID)
	case keys.KindChannelMessages:
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM reactions WHERE ns = ? AND message_id IN (SELECT id FROM messages WHERE ns = ? AND cid = ?)`,
			p.NS, p.NS, p.ID); err == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE ns = ? AND cid = ?`, p.NS, p.ID)
		}
	case keys.KindChannelMembers:
		_, err = tx.ExecContext(ctx, `DELETE FROM members WHERE ns = ? AND cid = ?`, p.NS, p.ID)
	case keys.KindChannelReads:
		_, err = tx.ExecContext(ctx, `DELETE FROM reads WHERE ns = ? AND cid = ?`, p.NS, p.ID)
	case keys.KindUser:
		_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE ns = ? AND id = ?`, p.NS, p.ID)
	default:
		return fmt.Errorf("unroutable key %q", key)
	}
	return wrapUnavailable(err)
}

// ListKeys reconstructs the document-key view from the table rows so
// the relational backend answers exactly like the other two.
func (s *SQLiteStore) ListKeys(ctx context.Context, prefix string) (out []string, err error) {
	defer func(start time.Time) { observe("sqlite", "list_keys", start, err) }(time.Now())
	if s.db == nil {
		return nil, ErrClosed
	}
	collect := func(query string, build func(ns, id string) string) error {
		rows, err := s.db.QueryxContext(ctx, query)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			var ns, id string
			if err := rows.Scan(&ns, &id); err != nil {
				return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
			if k := build(ns, id); strings.HasPrefix(k, prefix) {
				out = append(out, k)
			}
		}
		return rows.Err()
	}
	steps := []struct {
		query string
		build func(ns, id string) string
	}{
		{`SELECT ns, id FROM query_channels_map`, keys.Query},
		{`SELECT ns, cid FROM channels`, keys.Channel},
		{`SELECT DISTINCT ns, cid FROM messages`, keys.ChannelMessages},
		{`SELECT DISTINCT ns, cid FROM members`, keys.ChannelMembers},
		{`SELECT DISTINCT ns, cid FROM reads`, keys.ChannelReads},
		{`SELECT ns, id FROM users`, keys.User},
	}
	for _, st := range steps {
		if err := collect(st.query, st.build); err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, prefix string) error {
	if s.db == nil {
		return ErrClosed
	}
	// whole-store wipe and per-namespace purge hit the tables directly;
	// anything narrower goes through the key view.
	if prefix == keys.Prefix || prefix == "" {
		for _, name := range tableNames {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM `+name); err != nil {
				return wrapUnavailable(err)
			}
		}
		return nil
	}
	if ns, ok := namespaceOf(prefix); ok {
		logger.Log.Info("sqlite_delete_all", "ns", ns)
		for _, name := range tableNames {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM `+name+` WHERE ns = ?`, ns); err != nil {
				return wrapUnavailable(err)
			}
		}
		return nil
	}
	ks, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}
	return s.MultiRemove(ctx, ks)
}

// namespaceOf reports whether prefix is exactly a per-user namespace.
func namespaceOf(prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(prefix, keys.Prefix)
	if !ok {
		return "", false
	}
	ns, found := strings.CutSuffix(rest, "@")
	if !found || strings.Contains(ns, "@") {
		return "", false
	}
	return ns, true
}

func (s *SQLiteStore) Version(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var v int
	if err := sqlx.GetContext(ctx, s.db, &v, `PRAGMA user_version`); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v, nil
}

func (s *SQLiteStore) SetVersion(ctx context.Context, version int) error {
	if s.db == nil {
		return ErrClosed
	}
	// PRAGMA does not take bound parameters.
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, version)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Reset drops and recreates every managed table.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	for _, name := range tableNames {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
			return wrapUnavailable(err)
		}
	}
	if err := s.createTables(ctx); err != nil {
		return err
	}
	// user_version survives table drops and must not
	if err := s.SetVersion(ctx, 0); err != nil {
		return err
	}
	logger.Log.Info("sqlite_reset")
	return nil
}

// Select exposes set-based lookups for callers that know the table
// shapes, e.g. the query cache fetching a cid list by fingerprint.
func (s *SQLiteStore) Select(ctx context.Context, query string, args ...any) (out []map[string]any, err error) {
	defer func(start time.Time) { observe("sqlite", "select", start, err) }(time.Now())
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		m := map[string]any{}
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
