// Package keys owns the storage key layout.
//
// For a session user U1 data lives under the following keys:
//
//  1. chatcache:U1@query:{fingerprint}        - channel id list for a query
//  2. chatcache:U1@channel:{cid}              - channel row
//  3. chatcache:U1@channel:{cid}:messages     - message rows for the channel
//  4. chatcache:U1@channel:{cid}:members      - member rows for the channel
//  5. chatcache:U1@channel:{cid}:reads        - read states for the channel
//  6. chatcache:U1@user:{user_id}             - user row
//
// The schema version marker lives outside any user namespace under
// "chatcache:schema_version".
package keys

import "strings"

const (
	root = "chatcache"

	// Prefix is the root prefix shared by every entry the cache owns.
	Prefix = root + ":"

	// SchemaVersion gates destructive migration for the whole store.
	SchemaVersion = root + ":schema_version"
)

// Namespace returns the per-user key prefix. Every entry a session
// writes is namespaced under it so switching users cannot collide.
func Namespace(userID string) string {
	return root + ":" + userID + "@"
}

func Query(userID, fingerprint string) string {
	return Namespace(userID) + "query:" + fingerprint
}

func Channel(userID, cid string) string {
	return Namespace(userID) + "channel:" + cid
}

func ChannelMessages(userID, cid string) string {
	return Channel(userID, cid) + ":messages"
}

func ChannelMembers(userID, cid string) string {
	return Channel(userID, cid) + ":members"
}

func ChannelReads(userID, cid string) string {
	return Channel(userID, cid) + ":reads"
}

func User(userID, id string) string {
	return Namespace(userID) + "user:" + id
}

// Kind classifies a key so drivers with a typed layout can route it.
type Kind int

const (
	KindUnknown Kind = iota
	KindQuery
	KindChannel
	KindChannelMessages
	KindChannelMembers
	KindChannelReads
	KindUser
	KindVersion
)

// Parsed is the decomposition of a full storage key.
type Parsed struct {
	Kind Kind
	// NS is the session user id the key is namespaced under.
	NS string
	// ID is the entity id: fingerprint, cid or user id.
	ID string
}

// Parse decomposes a key built by this package. Keys from other
// namespaces come back as KindUnknown.
func Parse(key string) Parsed {
	if key == SchemaVersion {
		return Parsed{Kind: KindVersion}
	}
	rest, ok := strings.CutPrefix(key, root+":")
	if !ok {
		return Parsed{}
	}
	ns, rest, ok := strings.Cut(rest, "@")
	if !ok {
		return Parsed{}
	}
	switch {
	case strings.HasPrefix(rest, "query:"):
		return Parsed{Kind: KindQuery, NS: ns, ID: strings.TrimPrefix(rest, "query:")}
	case strings.HasPrefix(rest, "user:"):
		return Parsed{Kind: KindUser, NS: ns, ID: strings.TrimPrefix(rest, "user:")}
	case strings.HasPrefix(rest, "channel:"):
		id := strings.TrimPrefix(rest, "channel:")
		switch {
		case strings.HasSuffix(id, ":messages"):
			return Parsed{Kind: KindChannelMessages, NS: ns, ID: strings.TrimSuffix(id, ":messages")}
		case strings.HasSuffix(id, ":members"):
			return Parsed{Kind: KindChannelMembers, NS: ns, ID: strings.TrimSuffix(id, ":members")}
		case strings.HasSuffix(id, ":reads"):
			return Parsed{Kind: KindChannelReads, NS: ns, ID: strings.TrimSuffix(id, ":reads")}
		default:
			return Parsed{Kind: KindChannel, NS: ns, ID: id}
		}
	}
	return Parsed{NS: ns}
}
