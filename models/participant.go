package models

import (
	"time"
)

type Participant struct {
	ID        string    `db:"id" json:"id"`
	RaidID    string    `db:"raid_id" json:"raid_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	JoinedAs  string    `db:"joined_as" json:"joined_as"`
	IsMain    bool      `db:"is_main" json:"is_main"`
	IsReserve bool      `db:"is_reserve" json:"is_reserve"`
	IsAlt     bool      `db:"is_alt" json:"is_alt"`
	Tag       string    `db:"tag" json:"tag,omitempty"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}

func (p *Participant) TableName() string {
	return "participants"
}

// StateChange records one reserve row flipped to a main seat by the
// promotion engine, in application order.
type StateChange struct {
	ParticipantID string `json:"participant_id"`
	UserID        string `json:"user_id"`
	IsAlt         bool   `json:"is_alt"`
}
