// Package consts names the tables, keys and graph labels the session
// backends share.
package consts

const (
	// DefaultDBName is used when no database name is configured.
	DefaultDBName = "vitrine"

	// TableNameTurns holds one row or document per chat turn.
	TableNameTurns = "chat_turns"

	ColSessionID   = "session_id"
	ColRole        = "role"
	ColContent     = "content"
	ColAttachments = "attachments"
	ColCreatedAt   = "created_at"
	ColExpiresAt   = "expires_at"

	// Graph shape: (:ChatSession {id, touched})-[:SAID]->(:Turn).
	LabelSession = "ChatSession"
	LabelTurn    = "Turn"
	RelSaid      = "SAID"
	PropTouched  = "touched"

	// RedisKeyPrefix prefixes the per-session turn lists.
	RedisKeyPrefix = "vitrine:session:"
)
