package store

import (
	"fmt"
)

// Schema is recreated idempotently at startup. Timers are intentionally
// absent: the scheduler re-derives them from raids on every boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS raids (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		scheduled_for DATETIME NOT NULL,
		duration_hours INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		max_mains INTEGER NOT NULL DEFAULT 0,
		allow_alts BOOLEAN NOT NULL DEFAULT 0,
		max_alt_mains INTEGER NOT NULL DEFAULT 0,
		is_priority BOOLEAN NOT NULL DEFAULT 0,
		priority_until DATETIME,
		priority_roles TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		raid_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		joined_as TEXT NOT NULL DEFAULT '',
		is_main BOOLEAN NOT NULL DEFAULT 0,
		is_reserve BOOLEAN NOT NULL DEFAULT 1,
		is_alt BOOLEAN NOT NULL DEFAULT 0,
		tag TEXT NOT NULL DEFAULT '',
		joined_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raids_active ON raids (is_active, scheduled_for)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_raid ON participants (raid_id, is_alt, joined_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_primary
		ON participants (raid_id, user_id) WHERE is_alt = 0`,
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.NewQuery(stmt).Execute(); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
