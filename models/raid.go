package models

import (
	"encoding/json"
	"time"
)

type Raid struct {
	ID            string     `db:"id" json:"id"`
	GuildID       string     `db:"guild_id" json:"guild_id"`
	ChannelID     string     `db:"channel_id" json:"channel_id"`
	MessageID     string     `db:"message_id" json:"message_id"`
	Name          string     `db:"name" json:"name"`
	Description   string     `db:"description" json:"description"`
	CreatedBy     string     `db:"created_by" json:"created_by"`
	OwnerID       string     `db:"owner_id" json:"owner_id"`
	ScheduledFor  time.Time  `db:"scheduled_for" json:"scheduled_for"`
	DurationHours int        `db:"duration_hours" json:"duration_hours"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	MaxMains      int        `db:"max_mains" json:"max_mains"`
	AllowAlts     bool       `db:"allow_alts" json:"allow_alts"`
	MaxAltMains   int        `db:"max_alt_mains" json:"max_alt_mains"`
	IsPriority    bool       `db:"is_priority" json:"is_priority"`
	PriorityUntil *time.Time `db:"priority_until" json:"priority_until,omitempty"`
	// PriorityRoles holds the configured priority role IDs as a JSON array.
	PriorityRoles string `db:"priority_roles" json:"priority_roles"`
}

func (r *Raid) TableName() string {
	return "raids"
}

// PriorityRoleIDs decodes the stored priority role list. A missing or
// malformed value means no priority roles are configured.
func (r *Raid) PriorityRoleIDs() []string {
	if r.PriorityRoles == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.PriorityRoles), &ids); err != nil {
		return nil
	}
	return ids
}

func (r *Raid) SetPriorityRoleIDs(ids []string) {
	if len(ids) == 0 {
		r.PriorityRoles = ""
		return
	}
	data, _ := json.Marshal(ids)
	r.PriorityRoles = string(data)
}

// PriorityWindowActive reports whether only priority-flagged users may be
// promoted right now. A nil PriorityUntil on a priority raid means the
// window stays open until explicitly lifted.
func (r *Raid) PriorityWindowActive(now time.Time) bool {
	if !r.IsPriority {
		return false
	}
	if r.PriorityUntil == nil {
		return true
	}
	return now.Before(*r.PriorityUntil)
}
